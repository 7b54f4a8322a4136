// Package phone normalises lead phone numbers to E.164.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const DefaultRegion = "SG"

var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw in region (SG when empty) and returns it in E.164.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeOrEmpty is Normalize for optional fields: anything invalid
// becomes "".
func NormalizeOrEmpty(raw string) string {
	n, err := Normalize(raw, DefaultRegion)
	if err != nil {
		return ""
	}
	return n
}
