package model

import (
	"fmt"
	"strings"
)

// Currencies whose minor unit equals the major unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
}

// FormatMoney renders integer minor units for display, e.g. 123456 THB
// as "1,234.56 THB" and 123456 JPY as "123,456 JPY". Conversion to display
// strings happens only at the boundary; all arithmetic stays in minor units.
func FormatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return fmt.Sprintf("%s %s", groupDigits(amount), currency)
	}
	major := amount / 100
	minor := amount % 100
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%s.%02d %s", groupDigits(major), minor, currency)
}

func groupDigits(value int64) string {
	raw := fmt.Sprintf("%d", value)
	negative := strings.HasPrefix(raw, "-")
	if negative {
		raw = raw[1:]
	}

	var b strings.Builder
	for i, digit := range raw {
		if i > 0 && (len(raw)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}
