package x402

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFacilitatorSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/supported" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(SupportedResponse{
			X402Version:     1,
			Scheme:          "exact",
			Network:         "solana-devnet",
			FeePayer:        "fee_payer_wallet",
			SupportedTokens: []string{"mint_addr"},
		})
	}))
	defer srv.Close()

	got, err := NewFacilitatorClient(srv.URL).Supported(context.Background())
	if err != nil {
		t.Fatalf("Supported: %v", err)
	}
	if got.Scheme != "exact" || got.FeePayer != "fee_payer_wallet" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if len(got.SupportedTokens) != 1 || got.SupportedTokens[0] != "mint_addr" {
		t.Fatalf("unexpected tokens: %v", got.SupportedTokens)
	}
}

func TestFacilitatorVerifyEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var env paymentEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Payment.Transaction != "dGVzdA==" {
			t.Fatalf("transaction = %q, want dGVzdA==", env.Payment.Transaction)
		}
		json.NewEncoder(w).Encode(VerifyResponse{IsValid: true, Message: "ok"})
	}))
	defer srv.Close()

	got, err := NewFacilitatorClient(srv.URL).Verify(context.Background(), "dGVzdA==")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !got.IsValid {
		t.Fatalf("IsValid = false, want true: %+v", got)
	}
}

func TestFacilitatorSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SettleResponse{
			Success:              true,
			TransactionSignature: "sig_settled",
			Network:              "solana-devnet",
		})
	}))
	defer srv.Close()

	got, err := NewFacilitatorClient(srv.URL).Settle(context.Background(), "dGVzdA==")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !got.Success || got.TransactionSignature != "sig_settled" {
		t.Fatalf("unexpected settlement: %+v", got)
	}
}

func TestFacilitatorSettleFailureBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SettleResponse{Success: false, Error: "insufficient_balance"})
	}))
	defer srv.Close()

	got, err := NewFacilitatorClient(srv.URL).Settle(context.Background(), "dGVzdA==")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got.Success {
		t.Fatal("Success = true, want false")
	}
	if got.Error != "insufficient_balance" {
		t.Fatalf("Error = %q, want insufficient_balance", got.Error)
	}
}

func TestFacilitatorSettleHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kora exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewFacilitatorClient(srv.URL).Settle(context.Background(), "dGVzdA=="); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestFacilitatorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewFacilitatorClient(srv.URL).Settle(context.Background(), "dGVzdA==")
	if !errors.Is(err, ErrFacilitatorUnavailable) {
		t.Fatalf("error = %v, want ErrFacilitatorUnavailable", err)
	}
}

func TestFacilitatorHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewFacilitatorClient(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
