// Package decimal converts between human-readable decimal strings (the
// units Plans, quotes, and vault holdings are expressed in) and atomic
// big.Int amounts (the units the chain deals in), using exact integer
// arithmetic throughout — no float64 anywhere near a persisted amount.
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a human-readable decimal string ("100", "0.03",
// "12.5") into an atomic big.Int at the given number of decimals.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("decimal: empty amount")
	}

	neg := false
	if strings.HasPrefix(value, "-") {
		neg = true
		value = value[1:]
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if !hasFrac {
		frac = ""
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("decimal: %q has more than %d fractional digits", value, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	digits := whole + frac
	atomic, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("decimal: %q is not a valid decimal amount", value)
	}
	if neg {
		atomic.Neg(atomic)
	}
	return atomic, nil
}

// FormatUnits converts an atomic big.Int amount back into a human-readable
// decimal string at the given number of decimals, trimming trailing zeros
// but always leaving at least one digit after the point when there is a
// fractional part.
func FormatUnits(atomic *big.Int, decimals int) string {
	if atomic == nil {
		atomic = big.NewInt(0)
	}

	neg := atomic.Sign() < 0
	abs := new(big.Int).Abs(atomic)
	digits := abs.String()

	if decimals == 0 {
		if neg {
			return "-" + digits
		}
		return digits
	}

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}

	split := len(digits) - decimals
	whole := digits[:split]
	frac := strings.TrimRight(digits[split:], "0")

	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

// AddUnits adds two human-readable decimal strings at the given decimals
// using exact big-integer arithmetic, returning the sum as a decimal
// string. Used for vault-holding share additivity (spec §8).
func AddUnits(a, b string, decimals int) (string, error) {
	aAtomic, err := ParseUnits(a, decimals)
	if err != nil {
		return "", err
	}
	bAtomic, err := ParseUnits(b, decimals)
	if err != nil {
		return "", err
	}
	return FormatUnits(new(big.Int).Add(aAtomic, bAtomic), decimals), nil
}
