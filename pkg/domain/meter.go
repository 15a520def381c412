package domain

import (
	"strings"

	dErrors "selfcare/pkg/domain-errors"
)

// MeterNumber is the serial printed on a heatmeter. It is opaque to this
// system: verification matching is exact and case-sensitive, so no
// normalization beyond whitespace trimming is applied at parse time.
type MeterNumber string

const maxMeterNumberLen = 64

// ParseMeterNumber validates user-supplied meter-number input.
func ParseMeterNumber(s string) (MeterNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "meter number is required")
	}
	if len(s) > maxMeterNumberLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "meter number is too long")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", dErrors.New(dErrors.CodeInvalidInput, "meter number contains control characters")
		}
	}
	return MeterNumber(s), nil
}

func (m MeterNumber) String() string { return string(m) }

func (m MeterNumber) IsNil() bool { return m == "" }
