package x402

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agoranet/solana"
)

// Kind classifies terminal payment-flow failures.
type Kind string

const (
	// KindBudgetExceeded means the challenge asked for more than the caller
	// authorized; nothing was paid.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindSettlementFailed means the payment could not be built or settled;
	// nothing reached the ledger.
	KindSettlementFailed Kind = "settlement_failed"
	// KindPaymentRejected means the provider answered 402 again after proof
	// was presented. The payment settled; the signature is preserved.
	KindPaymentRejected Kind = "payment_rejected"
	// KindProviderError means the provider failed the request with a non-402
	// client error. A settled signature, if any, is preserved.
	KindProviderError Kind = "provider_error"
	// KindDeliveryFailedAfterPayment means the payment settled but the
	// delivery retry failed server-side or in transport.
	KindDeliveryFailedAfterPayment Kind = "delivery_failed_after_payment"
)

// Error is a classified payment-flow failure. Signature is non-empty
// whenever a settlement happened before the failure, so callers can record
// the spent payment.
type Error struct {
	Kind      Kind
	Signature string
	msg       string
	cause     error
}

func (e *Error) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("x402: %s (signature %s): %s", e.Kind, e.Signature, e.msg)
	}
	return fmt.Sprintf("x402: %s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

// SignatureOf extracts the settled signature a failure preserved, if any.
func SignatureOf(err error) string {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Signature
	}
	return ""
}

// TransactionBuilder assembles the unsigned ledger transfer a challenge asks
// for.
type TransactionBuilder interface {
	Build(ctx context.Context, payer, recipient, mint solana.PublicKey, minorUnits uint64, decimals uint8) (*solana.Transaction, error)
}

// Settler submits a base64 transaction for settlement.
type Settler interface {
	Settle(ctx context.Context, txB64 string) (*SettleResponse, error)
}

// Result is the outcome of a successful payment-gated request.
type Result struct {
	StatusCode  int
	Body        json.RawMessage
	PaymentMade bool
	Signature   string
	AmountMinor uint64
	Challenge   *PaymentChallenge
}

const defaultRequestTimeout = 30 * time.Second

// Client performs payment-gated requests: it absorbs the 402 challenge,
// settles exactly one payment within the caller's budget and retries once
// with proof.
type Client struct {
	httpClient *http.Client
	builder    TransactionBuilder
	payer      solana.PublicKey
	signer     ed25519.PrivateKey
	decimals   uint8
	network    string
	newSettler func(baseURL string) Settler
}

// ClientOption adjusts a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the provider-facing transport.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithSigner attaches the payer's key so the owner slot is signed before
// transport. Gasless facilitators accept unsigned owner slots too.
func WithSigner(key ed25519.PrivateKey) ClientOption {
	return func(c *Client) { c.signer = key }
}

// WithDecimals overrides the mint decimal count.
func WithDecimals(decimals uint8) ClientOption {
	return func(c *Client) { c.decimals = decimals }
}

// WithNetwork overrides the network echoed in payment proofs.
func WithNetwork(network string) ClientOption {
	return func(c *Client) {
		if network != "" {
			c.network = network
		}
	}
}

// WithSettlerFactory overrides how a challenge's facilitator URL becomes a
// Settler, used by tests and by services that pool facilitator clients.
func WithSettlerFactory(factory func(baseURL string) Settler) ClientOption {
	return func(c *Client) {
		if factory != nil {
			c.newSettler = factory
		}
	}
}

// NewClient builds a payment-gated HTTP client paying from payer.
func NewClient(payer solana.PublicKey, builder TransactionBuilder, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: otelhttp.NewTransport(nil),
		},
		builder:  builder,
		payer:    payer,
		decimals: solana.USDCDecimals,
		network:  DefaultNetwork,
		newSettler: func(baseURL string) Settler {
			return NewFacilitatorClient(baseURL)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) issue(ctx context.Context, method, url string, body []byte, proofHeader string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if proofHeader != "" {
		req.Header.Set(PaymentResponseHeader, proofHeader)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

// Do issues a payment-gated request. A 402 response triggers at most one
// settlement, capped at maxAmountMinor, followed by exactly one retry with
// proof. Failures come back as *Error with the settled signature preserved
// once payment has happened.
func (c *Client) Do(ctx context.Context, method, url string, body any, maxAmountMinor uint64) (*Result, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	case json.RawMessage:
		payload = b
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	status, raw, err := c.issue(ctx, method, url, payload, "")
	if err != nil {
		return nil, &Error{Kind: KindProviderError, msg: "initial request failed", cause: err}
	}
	if status != http.StatusPaymentRequired {
		if status >= 200 && status < 300 {
			return &Result{StatusCode: status, Body: raw}, nil
		}
		return nil, &Error{Kind: KindProviderError, msg: fmt.Sprintf("status %d: %s", status, snippet(raw))}
	}

	var challenge PaymentChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, &Error{Kind: KindProviderError, msg: "malformed payment challenge", cause: err}
	}
	if challenge.AmountMinor == 0 || challenge.Recipient == "" {
		return nil, &Error{Kind: KindProviderError, msg: fmt.Sprintf("incomplete payment challenge: %s", snippet(raw))}
	}
	if challenge.AmountMinor > maxAmountMinor {
		return nil, &Error{
			Kind: KindBudgetExceeded,
			msg:  fmt.Sprintf("challenge asks %d minor units, authorized %d", challenge.AmountMinor, maxAmountMinor),
		}
	}

	recipient, err := solana.ParsePublicKey(challenge.Recipient)
	if err != nil {
		return nil, &Error{Kind: KindProviderError, msg: "challenge recipient is not a valid wallet", cause: err}
	}
	mint, err := solana.ParsePublicKey(challenge.TokenMint)
	if err != nil {
		return nil, &Error{Kind: KindProviderError, msg: "challenge token mint is invalid", cause: err}
	}

	tx, err := c.builder.Build(ctx, c.payer, recipient, mint, challenge.AmountMinor, c.decimals)
	if err != nil {
		return nil, &Error{Kind: KindSettlementFailed, msg: "build payment transaction", cause: err}
	}
	if c.signer != nil {
		if err := tx.Sign(c.signer); err != nil {
			return nil, &Error{Kind: KindSettlementFailed, msg: "sign payment transaction", cause: err}
		}
	}

	settlement, err := c.newSettler(challenge.FacilitatorURL).Settle(ctx, tx.Base64())
	if err != nil {
		return nil, &Error{Kind: KindSettlementFailed, msg: "settle payment", cause: err}
	}
	if !settlement.Success || settlement.TransactionSignature == "" {
		reason := settlement.Error
		if reason == "" {
			reason = "facilitator reported no signature"
		}
		return nil, &Error{Kind: KindSettlementFailed, msg: reason}
	}
	signature := settlement.TransactionSignature

	network := challenge.Network
	if network == "" {
		network = c.network
	}
	proofHeader, err := PaymentProof{Signature: signature, Network: network}.EncodeHeader()
	if err != nil {
		return nil, &Error{Kind: KindDeliveryFailedAfterPayment, Signature: signature, msg: "encode payment proof", cause: err}
	}

	status, raw, err = c.issue(ctx, method, url, payload, proofHeader)
	if err != nil {
		return nil, &Error{Kind: KindDeliveryFailedAfterPayment, Signature: signature, msg: "retry with proof failed", cause: err}
	}
	switch {
	case status >= 200 && status < 300:
		return &Result{
			StatusCode:  status,
			Body:        raw,
			PaymentMade: true,
			Signature:   signature,
			AmountMinor: challenge.AmountMinor,
			Challenge:   &challenge,
		}, nil
	case status == http.StatusPaymentRequired:
		return nil, &Error{Kind: KindPaymentRejected, Signature: signature, msg: fmt.Sprintf("proof rejected: %s", snippet(raw))}
	case status >= 500:
		return nil, &Error{Kind: KindDeliveryFailedAfterPayment, Signature: signature, msg: fmt.Sprintf("status %d: %s", status, snippet(raw))}
	default:
		return nil, &Error{Kind: KindProviderError, Signature: signature, msg: fmt.Sprintf("status %d: %s", status, snippet(raw))}
	}
}
