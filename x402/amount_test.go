package x402

import (
	"strings"
	"testing"
	"time"
)

func TestMinorFromHuman(t *testing.T) {
	cases := []struct {
		amount   float64
		decimals uint8
		want     uint64
	}{
		{0.00012, 6, 120},
		{0.000001, 6, 1},
		{1.5, 6, 1_500_000},
		{150, 6, 150_000_000},
		{0, 6, 0},
		{3, 0, 3},
	}
	for _, tc := range cases {
		got, err := MinorFromHuman(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("MinorFromHuman(%v, %d): %v", tc.amount, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("MinorFromHuman(%v, %d) = %d, want %d", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestMinorFromHumanRejects(t *testing.T) {
	if _, err := MinorFromHuman(-1, 6); err == nil {
		t.Fatal("expected error for negative amount")
	}
	if _, err := MinorFromHuman(0.0000001, 6); err == nil {
		t.Fatal("expected error for sub-minor precision")
	}
}

func TestHumanFromMinor(t *testing.T) {
	cases := []struct {
		minor    uint64
		decimals uint8
		want     string
	}{
		{120, 6, "0.00012"},
		{1, 6, "0.000001"},
		{1_500_000, 6, "1.5"},
		{150_000_000, 6, "150"},
		{0, 6, "0"},
		{42, 0, "42"},
	}
	for _, tc := range cases {
		if got := HumanFromMinor(tc.minor, tc.decimals); got != tc.want {
			t.Fatalf("HumanFromMinor(%d, %d) = %q, want %q", tc.minor, tc.decimals, got, tc.want)
		}
	}
}

func TestNewChallenge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ch, err := NewChallenge("provider_wallet", 0.00012, 6, "mint_addr", "", "http://facilitator:3000", now)
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	if ch.AmountMinor != 120 {
		t.Fatalf("AmountMinor = %d, want 120", ch.AmountMinor)
	}
	if ch.AmountHuman != "0.00012" {
		t.Fatalf("AmountHuman = %q, want 0.00012", ch.AmountHuman)
	}
	if ch.Network != DefaultNetwork {
		t.Fatalf("Network = %q, want default", ch.Network)
	}
	if ch.Nonce == "" || strings.Count(ch.Nonce, "-") != 4 {
		t.Fatalf("Nonce = %q, want a uuid", ch.Nonce)
	}
	if want := now.Add(DefaultChallengeTTL); !ch.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", ch.ExpiresAt, want)
	}
	if ch.Expired(now.Add(4 * time.Minute)) {
		t.Fatal("challenge expired too early")
	}
	if !ch.Expired(now.Add(DefaultChallengeTTL)) {
		t.Fatal("challenge should expire at its deadline")
	}
}

func TestNewChallengeRejects(t *testing.T) {
	now := time.Now()
	if _, err := NewChallenge("", 1, 6, "mint", "", "http://f", now); err == nil {
		t.Fatal("expected error for empty recipient")
	}
	if _, err := NewChallenge("wallet", 0, 6, "mint", "", "http://f", now); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestPaymentProofHeaderRoundTrip(t *testing.T) {
	header, err := PaymentProof{Signature: "sig_abc", Network: "solana-devnet"}.EncodeHeader()
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	proof, err := ParseProofHeader(header)
	if err != nil {
		t.Fatalf("ParseProofHeader: %v", err)
	}
	if proof.Signature != "sig_abc" || proof.Network != "solana-devnet" {
		t.Fatalf("round trip mismatch: %+v", proof)
	}

	if _, err := (PaymentProof{}).EncodeHeader(); err == nil {
		t.Fatal("expected error encoding empty proof")
	}
	if _, err := ParseProofHeader("{"); err == nil {
		t.Fatal("expected error for malformed header")
	}
	if _, err := ParseProofHeader(`{"network":"x"}`); err == nil {
		t.Fatal("expected error for missing signature")
	}
}
