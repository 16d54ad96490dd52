package facilitatord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Signer is the slice of a Kora-style gasless signer the facilitator
// proxies: sign-only for verification, sign-and-broadcast for settlement.
type Signer interface {
	SignTransaction(ctx context.Context, txB64 string) (string, error)
	SignAndSend(ctx context.Context, txB64 string) (string, error)
}

const defaultKoraTimeout = 30 * time.Second

// KoraClient talks to a Kora RPC node. Kora signs as fee payer so the
// paying agent never needs SOL for gas.
type KoraClient struct {
	baseURL    string
	httpClient *http.Client
}

// KoraOption customises the client.
type KoraOption func(*KoraClient)

// WithKoraHTTPClient overrides the transport, primarily for tests.
func WithKoraHTTPClient(httpClient *http.Client) KoraOption {
	return func(c *KoraClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewKoraClient builds a client for the Kora RPC at baseURL.
func NewKoraClient(baseURL string, opts ...KoraOption) *KoraClient {
	c := &KoraClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultKoraTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type koraRequest struct {
	Transaction string `json:"transaction"`
	Commitment  string `json:"commitment"`
}

type koraResponse struct {
	Signature   string `json:"signature"`
	Transaction string `json:"transaction"`
	Error       string `json:"error"`
}

func (c *KoraClient) call(ctx context.Context, path, txB64 string) (string, error) {
	payload, err := json.Marshal(koraRequest{Transaction: txB64, Commitment: "confirmed"})
	if err != nil {
		return "", fmt.Errorf("encode kora request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build kora request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kora unreachable: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read kora response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kora %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out koraResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode kora response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("kora %s rejected transaction: %s", path, out.Error)
	}
	signature := out.Signature
	if signature == "" {
		signature = out.Transaction
	}
	if signature == "" {
		return "", fmt.Errorf("kora %s returned no signature", path)
	}
	return signature, nil
}

// SignTransaction asks Kora to co-sign without broadcasting; a signed
// transaction coming back proves structural validity.
func (c *KoraClient) SignTransaction(ctx context.Context, txB64 string) (string, error) {
	return c.call(ctx, "/signTransaction", txB64)
}

// SignAndSend asks Kora to sign as fee payer, broadcast, and wait for
// confirmed commitment, returning the transaction signature.
func (c *KoraClient) SignAndSend(ctx context.Context, txB64 string) (string, error) {
	return c.call(ctx, "/signAndSendTransaction", txB64)
}
