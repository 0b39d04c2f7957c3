package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Confidence is the classifier's certainty in a finding.
// The zero value is unknown and sorts below low.
type Confidence int8

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Compare returns -1, 0 or 1 using the order high > medium > low.
func (c Confidence) Compare(other Confidence) int {
	switch {
	case c < other:
		return -1
	case c > other:
		return 1
	default:
		return 0
	}
}

func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	default:
		return ConfidenceUnknown, fmt.Errorf("unknown confidence %q", s)
	}
}

func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(b []byte) error {
	parsed, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the confidence as its name so the column stays readable.
func (c Confidence) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Confidence) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*c = ConfidenceUnknown
		return nil
	case string:
		return c.scanString(v)
	case []byte:
		return c.scanString(string(v))
	default:
		return fmt.Errorf("Confidence: expected string, got %T", value)
	}
}

func (c *Confidence) scanString(s string) error {
	if s == "" || s == "unknown" {
		*c = ConfidenceUnknown
		return nil
	}
	return c.UnmarshalText([]byte(s))
}

// ConfidenceOrderExpr renders a SQL expression over column that ranks confidences the
// same way Compare does, for ORDER BY on the stored names.
func ConfidenceOrderExpr(column string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for c := ConfidenceHigh; c > ConfidenceUnknown; c-- {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", c, c)
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}
