package wallet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// zecExp is the decimal exponent of one zatoshi.
const zecExp = -8

// ToZEC converts a zatoshi amount into ZEC.
func ToZEC(zat int64) decimal.Decimal {
	return decimal.New(zat, zecExp)
}

// FormatZEC renders a zatoshi amount in ZEC with all eight decimals.
func FormatZEC(zat int64) string {
	return ToZEC(zat).StringFixed(-zecExp)
}

// ParseZEC converts a ZEC amount such as "1.5" into zatoshi. More than eight
// decimals or a value outside the money range is an error.
func ParseZEC(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	zat := d.Shift(-zecExp)
	if !zat.Equal(zat.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, -zecExp)
	}
	if zat.Abs().GreaterThan(decimal.NewFromInt(MaxMoney)) {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return zat.IntPart(), nil
}
