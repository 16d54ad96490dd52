// Package x402 implements the payment-gated HTTP protocol the marketplace
// settles service calls with: providers answer unpaid requests with a 402
// challenge, clients settle the named amount on the ledger through a
// facilitator and retry once with signature proof.
package x402

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentResponseHeader carries the JSON payment proof on the retry request.
const PaymentResponseHeader = "X-Payment-Response"

// DefaultNetwork names the ledger cluster payments settle on.
const DefaultNetwork = "solana-devnet"

// DefaultChallengeTTL bounds how long a challenge stays payable.
const DefaultChallengeTTL = 5 * time.Minute

// PaymentChallenge is the 402 response body naming the price of a resource.
// Challenges are minted per request and never persisted.
type PaymentChallenge struct {
	Recipient      string    `json:"recipient"`
	AmountHuman    string    `json:"amount_human"`
	AmountMinor    uint64    `json:"amount_minor"`
	TokenMint      string    `json:"token_mint"`
	Network        string    `json:"network"`
	FacilitatorURL string    `json:"facilitator_url"`
	Nonce          string    `json:"nonce"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// NewChallenge prices a resource at amountUSDC for the given recipient
// wallet, minting a fresh nonce and expiry.
func NewChallenge(recipient string, amountUSDC float64, decimals uint8, tokenMint, network, facilitatorURL string, now time.Time) (*PaymentChallenge, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("x402: challenge requires a recipient wallet")
	}
	minor, err := MinorFromHuman(amountUSDC, decimals)
	if err != nil {
		return nil, err
	}
	if minor == 0 {
		return nil, fmt.Errorf("x402: challenge amount must be positive")
	}
	if network == "" {
		network = DefaultNetwork
	}
	return &PaymentChallenge{
		Recipient:      recipient,
		AmountHuman:    HumanFromMinor(minor, decimals),
		AmountMinor:    minor,
		TokenMint:      tokenMint,
		Network:        network,
		FacilitatorURL: facilitatorURL,
		Nonce:          uuid.NewString(),
		ExpiresAt:      now.Add(DefaultChallengeTTL).UTC(),
	}, nil
}

// Expired reports whether the challenge can no longer be paid.
func (c *PaymentChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// PaymentProof is the settled-payment evidence presented on the retry.
type PaymentProof struct {
	Signature string `json:"signature"`
	Network   string `json:"network"`
}

// EncodeHeader renders the proof for the X-Payment-Response header.
func (p PaymentProof) EncodeHeader() (string, error) {
	if strings.TrimSpace(p.Signature) == "" {
		return "", fmt.Errorf("x402: payment proof requires a signature")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payment proof: %w", err)
	}
	return string(raw), nil
}

// ParseProofHeader decodes an X-Payment-Response header value.
func ParseProofHeader(header string) (PaymentProof, error) {
	var proof PaymentProof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		return PaymentProof{}, fmt.Errorf("decode payment proof: %w", err)
	}
	if strings.TrimSpace(proof.Signature) == "" {
		return PaymentProof{}, fmt.Errorf("x402: payment proof carries no signature")
	}
	return proof, nil
}
