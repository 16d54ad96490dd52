package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestMaskFieldPassesMarketplaceKeys(t *testing.T) {
	attr := MaskField("agent_id", "agent_7f3a")
	if attr.Value.String() != "agent_7f3a" {
		t.Fatalf("expected agent_id to pass through, got %q", attr.Value.String())
	}
	attr = MaskField("signature", "5j2JzJr")
	if attr.Value.String() != "5j2JzJr" {
		t.Fatalf("expected signature to pass through, got %q", attr.Value.String())
	}
}

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	attr := MaskField("api_key", "sk-secret")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected api_key to be redacted, got %q", attr.Value.String())
	}
	attr = MaskField("wallet_private_key", "3q7k")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected wallet_private_key to be redacted, got %q", attr.Value.String())
	}
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	attr := MaskField("api_key", "")
	if attr.Value.String() != "" {
		t.Fatalf("expected empty value to pass through, got %q", attr.Value.String())
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("allowlist not sorted at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
	found := false
	for _, key := range keys {
		if key == "rfp_id" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected rfp_id in allowlist")
	}
}

func TestAbbrevShortensLongSignatures(t *testing.T) {
	sig := "5VERYLONGSIGNATURExxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxTAIL1234"
	short := Abbrev(sig)
	if !strings.HasPrefix(short, sig[:8]) || !strings.HasSuffix(short, sig[len(sig)-8:]) {
		t.Fatalf("unexpected abbreviation %q", short)
	}
	if !strings.Contains(short, "..") {
		t.Fatalf("expected separator in %q", short)
	}
	if got := Abbrev("short"); got != "short" {
		t.Fatalf("expected short value unchanged, got %q", got)
	}
}

func TestCanonicalKeysRenames(t *testing.T) {
	attr := canonicalKeys(nil, slog.String(slog.MessageKey, "hello"))
	if attr.Key != "message" {
		t.Fatalf("expected message key, got %q", attr.Key)
	}
	attr = canonicalKeys(nil, slog.Any(slog.LevelKey, slog.LevelWarn))
	if attr.Key != "severity" || attr.Value.String() != "WARN" {
		t.Fatalf("expected severity WARN, got %q=%q", attr.Key, attr.Value.String())
	}
}
