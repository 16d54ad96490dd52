package x402

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// MinorFromHuman converts a human token amount to minor units exactly. The
// float is first rendered to its shortest decimal form so 0.00012 scales to
// 120 instead of inheriting binary noise; amounts finer than the mint's
// decimals are rejected rather than silently truncated.
func MinorFromHuman(amount float64, decimals uint8) (uint64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("x402: amount %v is negative", amount)
	}
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	rat, ok := new(big.Rat).SetString(text)
	if !ok {
		return 0, fmt.Errorf("x402: amount %q is not a decimal number", text)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return 0, fmt.Errorf("x402: amount %s is finer than %d decimals", text, decimals)
	}
	minor := rat.Num()
	if !minor.IsUint64() {
		return 0, fmt.Errorf("x402: amount %s overflows minor units", text)
	}
	return minor.Uint64(), nil
}

// HumanFromMinor renders minor units as a trimmed decimal string.
func HumanFromMinor(minor uint64, decimals uint8) string {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(new(big.Int).SetUint64(minor), scale)
	text := rat.FloatString(int(decimals))
	if !strings.Contains(text, ".") {
		return text
	}
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}
