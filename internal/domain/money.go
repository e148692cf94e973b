package domain

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Money is an amount in cents. Sums of Money are exact.
type Money int64

// maxMoneyDigits keeps the whole part well inside int64 cents.
const maxMoneyDigits = 15

// Cents builds a Money from whole cents.
func Cents(c int64) Money { return Money(c) }

// maxMoneyExponent bounds the exponent of forms like "4.855e2".
const maxMoneyExponent = 64

// ParseMoney parses a decimal like "485.50", "-3" or "4.855e2". Extra
// fraction digits are rounded half away from zero to the cent.
func ParseMoney(value string) (Money, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, fmt.Errorf("parse money: empty value")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	mantissa, exp, hasExp := strings.Cut(strings.ToLower(s), "e")
	whole, frac, _ := strings.Cut(mantissa, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse money %q: no digits", value)
	}
	if hasExp {
		n, err := strconv.Atoi(exp)
		if err != nil || n < -maxMoneyExponent || n > maxMoneyExponent {
			return 0, fmt.Errorf("parse money %q: bad exponent", value)
		}
		if !allDigits(whole) || !allDigits(frac) {
			return 0, fmt.Errorf("parse money %q: not a decimal amount", value)
		}
		whole, frac = shiftPoint(whole, frac, n)
	}
	if whole == "" {
		whole = "0"
	}
	if len(whole) > maxMoneyDigits || !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("parse money %q: not a decimal amount", value)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", value, err)
	}
	cents := units*100 + int64(digitAt(frac, 0)*10+digitAt(frac, 1))
	if digitAt(frac, 2) >= 5 {
		cents++
	}
	if neg {
		cents = -cents
	}
	return Money(cents), nil
}

// shiftPoint moves the decimal point of whole.frac by exp places.
func shiftPoint(whole, frac string, exp int) (string, string) {
	digits := whole + frac
	point := len(whole) + exp
	switch {
	case point <= 0:
		whole, frac = "", strings.Repeat("0", -point)+digits
	case point >= len(digits):
		whole, frac = digits+strings.Repeat("0", point-len(digits)), ""
	default:
		whole, frac = digits[:point], digits[point:]
	}
	return strings.TrimLeft(whole, "0"), frac
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func digitAt(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	return int(s[i] - '0')
}

func (m Money) Cents() int64 { return int64(m) }

// Times multiplies by a whole factor, e.g. 12 months.
func (m Money) Times(n int64) Money { return Money(int64(m) * n) }

func (m Money) String() string {
	c := int64(m)
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m Money) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: m.String()}, nil
}

func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: money must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	v, err := ParseMoney(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = v
	return nil
}
