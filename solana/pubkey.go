// Package solana builds and inspects the SPL token transfers that settle
// marketplace payments. It covers exactly the surface the payment flow needs:
// base58 keys, associated token account derivation, the TransferChecked
// instruction, legacy message serialization and a small JSON-RPC client.
package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/base58"
)

// PublicKey is a 32-byte ed25519 public key or program-derived address.
type PublicKey [32]byte

// Well-known program ids and the devnet USDC mint the marketplace settles in.
var (
	TokenProgram           = MustParsePublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgram = MustParsePublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	SystemProgram          = MustParsePublicKey("11111111111111111111111111111111")
	DevnetUSDCMint         = MustParsePublicKey("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
)

// USDCDecimals is the decimal count of the USDC mint.
const USDCDecimals uint8 = 6

// ParsePublicKey decodes a base58-encoded 32-byte key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw := base58.Decode(s)
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("solana: public key %q decodes to %d bytes, want %d", s, len(raw), len(pk))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParsePublicKey is ParsePublicKey for compile-time constants; it panics
// on malformed input.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies a raw 32-byte key.
func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	var pk PublicKey
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("solana: public key is %d bytes, want %d", len(raw), len(pk))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String renders the key in base58.
func (pk PublicKey) String() string { return base58.Encode(pk[:]) }

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, len(pk))
	copy(out, pk[:])
	return out
}

// IsZero reports whether the key is the all-zero value.
func (pk PublicKey) IsZero() bool { return pk == PublicKey{} }

// MarshalText lets keys travel through JSON and YAML as base58 strings.
func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }

// UnmarshalText parses a base58 key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// isOnCurve reports whether the candidate bytes decode to a valid ed25519
// curve point. Program-derived addresses must not.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

const (
	maxSeeds   = 16
	maxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

// FindProgramAddress searches bump seeds from 255 down for the first
// derivation that falls off the ed25519 curve, mirroring the runtime's
// canonical PDA search.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	if len(seeds) > maxSeeds {
		return PublicKey{}, 0, fmt.Errorf("solana: %d seeds exceeds the maximum of %d", len(seeds), maxSeeds)
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return PublicKey{}, 0, fmt.Errorf("solana: seed of %d bytes exceeds the maximum of %d", len(seed), maxSeedLen)
		}
	}
	for bump := 255; bump >= 0; bump-- {
		var buf bytes.Buffer
		for _, seed := range seeds {
			buf.Write(seed)
		}
		buf.WriteByte(byte(bump))
		buf.Write(program[:])
		buf.Write(pdaMarker)
		digest := sha256.Sum256(buf.Bytes())
		if !isOnCurve(digest[:]) {
			return PublicKey(digest), uint8(bump), nil
		}
	}
	return PublicKey{}, 0, fmt.Errorf("solana: no viable bump seed for program %s", program)
}

// AssociatedTokenAddress derives the canonical token account for an owner and
// mint.
func AssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	pk, _, err := FindProgramAddress([][]byte{owner[:], TokenProgram[:], mint[:]}, AssociatedTokenProgram)
	if err != nil {
		return PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return pk, nil
}

// ParsePrivateKey decodes a base58 wallet secret. Both the 64-byte
// seed-plus-public layout used by Solana keygen files and a bare 32-byte seed
// are accepted.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw := base58.Decode(s)
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("solana: private key decodes to %d bytes, want %d or %d", len(raw), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

// PublicKeyOf extracts the wallet address from a private key.
func PublicKeyOf(key ed25519.PrivateKey) (PublicKey, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return PublicKey{}, fmt.Errorf("solana: private key has no ed25519 public half")
	}
	return PublicKeyFromBytes(pub)
}
