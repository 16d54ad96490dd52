package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrFacilitatorUnavailable marks transport-level failures reaching the
// facilitator. Settlement retries are the caller's decision; the settle
// transaction's blockhash and nonce make a duplicate submission harmless.
var ErrFacilitatorUnavailable = errors.New("x402: facilitator unavailable")

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultSettleTimeout = 30 * time.Second
)

// SupportedResponse describes a facilitator's capabilities.
type SupportedResponse struct {
	X402Version     int      `json:"x402Version"`
	Scheme          string   `json:"scheme"`
	Network         string   `json:"network"`
	FeePayer        string   `json:"feePayer"`
	SupportedTokens []string `json:"supportedTokens"`
}

// VerifyResponse is the structural-validity answer; nothing is broadcast.
type VerifyResponse struct {
	IsValid bool   `json:"isValid"`
	Message string `json:"message,omitempty"`
}

// SettleResponse reports a settlement attempt. TransactionSignature is set
// only on success.
type SettleResponse struct {
	Success              bool   `json:"success"`
	TransactionSignature string `json:"transactionSignature,omitempty"`
	Network              string `json:"network,omitempty"`
	Error                string `json:"error,omitempty"`
}

type paymentEnvelope struct {
	Payment struct {
		Transaction string `json:"transaction"`
	} `json:"payment"`
}

func newPaymentEnvelope(txB64 string) paymentEnvelope {
	var env paymentEnvelope
	env.Payment.Transaction = txB64
	return env
}

// FacilitatorClient wraps the three facilitator operations. Verify is quick
// and bounded at 5s; Settle waits out ledger confirmation and gets 30s.
type FacilitatorClient struct {
	baseURL       string
	httpClient    *http.Client
	verifyTimeout time.Duration
	settleTimeout time.Duration
}

// FacilitatorOption adjusts a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithFacilitatorHTTPClient swaps the transport, used by tests.
func WithFacilitatorHTTPClient(httpClient *http.Client) FacilitatorOption {
	return func(c *FacilitatorClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithVerifyTimeout overrides the verify deadline.
func WithVerifyTimeout(d time.Duration) FacilitatorOption {
	return func(c *FacilitatorClient) {
		if d > 0 {
			c.verifyTimeout = d
		}
	}
}

// WithSettleTimeout overrides the settle deadline.
func WithSettleTimeout(d time.Duration) FacilitatorOption {
	return func(c *FacilitatorClient) {
		if d > 0 {
			c.settleTimeout = d
		}
	}
}

// NewFacilitatorClient targets a facilitator base URL.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) *FacilitatorClient {
	c := &FacilitatorClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Transport: otelhttp.NewTransport(nil)},
		verifyTimeout: defaultVerifyTimeout,
		settleTimeout: defaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FacilitatorClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFacilitatorUnavailable, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrFacilitatorUnavailable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("x402: facilitator %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// Supported queries the facilitator's scheme, network and fee payer.
func (c *FacilitatorClient) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	var out SupportedResponse
	if err := c.do(ctx, http.MethodGet, "/supported", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks a base64 transaction for structural validity without
// broadcasting it.
func (c *FacilitatorClient) Verify(ctx context.Context, txB64 string) (*VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify", newPaymentEnvelope(txB64), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle submits a base64 transaction for fee-payer signing and broadcast,
// waiting for confirmation.
func (c *FacilitatorClient) Settle(ctx context.Context, txB64 string) (*SettleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settleTimeout)
	defer cancel()
	var out SettleResponse
	if err := c.do(ctx, http.MethodPost, "/settle", newPaymentEnvelope(txB64), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the facilitator's liveness endpoint.
func (c *FacilitatorClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
