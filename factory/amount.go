package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money cell from a spreadsheet or form. It accepts JSON
// numbers, numeric strings, empty strings and null. See ParseAmount for the
// accepted separators.
type Amount struct {
	Value decimal.Decimal
	Set   bool
}

// NewAmount returns a set amount.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Value: d, Set: true}
}

// ParseAmount parses the textual form of an amount. Blank input yields an
// unset amount. Spaces are digit grouping. When both "." and "," appear, the
// one written last is the decimal separator ("1.234,50" and "1,234.50" are
// both 1234.5). A lone separator that occurs once is decimal ("1250,50");
// one that repeats is grouping ("1,250,000").
func ParseAmount(raw string) (Amount, error) {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\u202f' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		return Amount{}, nil
	}

	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		decimalSep, groupSep := ".", ","
		if comma > dot {
			decimalSep, groupSep = ",", "."
		}
		s = strings.ReplaceAll(s, groupSep, "")
		if strings.Count(s, decimalSep) > 1 {
			return Amount{}, fmt.Errorf("invalid amount %q", raw)
		}
		s = strings.Replace(s, decimalSep, ".", 1)
	case comma >= 0:
		if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q", raw)
	}
	return NewAmount(d), nil
}

// OrZero returns the value, or zero when unset.
func (a Amount) OrZero() decimal.Decimal {
	if !a.Set {
		return decimal.Zero
	}
	return a.Value
}

// Ptr returns a pointer to the value, or nil when unset.
func (a Amount) Ptr() *decimal.Decimal {
	if !a.Set {
		return nil
	}
	v := a.Value
	return &v
}

// Null converts to a NullDecimal.
func (a Amount) Null() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: a.Value, Valid: a.Set}
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := ParseAmount(str)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %s", s)
	}
	*a = NewAmount(d)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Set {
		return []byte("null"), nil
	}
	return []byte(a.Value.String()), nil
}
