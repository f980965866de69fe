package domain

import (
	"math/big"
	"strings"
)

// tokenDecimals matches the HAVEN contract's ERC-20 precision.
const tokenDecimals = 18

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)

// ParseAmount converts a decimal token string ("480", "12.5") into the
// contract's smallest unit. More than 18 fractional digits is rejected.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ValidationError{Field: "amount", Msg: "amount is required"}
	}
	neg := strings.HasPrefix(s, "-")
	whole, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > tokenDecimals {
		return nil, &ValidationError{Field: "amount", Msg: "too many decimal places"}
	}
	digits := whole + frac + strings.Repeat("0", tokenDecimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, &ValidationError{Field: "amount", Msg: "not a decimal number"}
	}
	if neg {
		wei.Neg(wei)
	}
	return wei, nil
}

// TokensToWei converts a whole-token float (the unit the reward rules speak)
// into the smallest unit. Rule amounts are small enough that float64 is exact
// to well past the precision the rules produce.
func TokensToWei(tokens float64) *big.Int {
	f := new(big.Float).SetPrec(256).SetFloat64(tokens)
	f.Mul(f, new(big.Float).SetInt(weiPerToken))
	wei, _ := f.Int(nil)
	return wei
}

// FormatAmount renders a smallest-unit value as a decimal token string with
// trailing zeros trimmed.
func FormatAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(wei), weiPerToken, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := strings.TrimRight(strings.Repeat("0", tokenDecimals-len(r.String()))+r.String(), "0")
		out += "." + frac
	}
	if wei.Sign() < 0 {
		out = "-" + out
	}
	return out
}
