package phone

import (
	"errors"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalid is returned when a value cannot be parsed as a dialable number.
var ErrInvalid = errors.New("invalid phone number")

// NormalizeE164 parses raw using defaultRegion for national formats and
// returns the E.164 form.
func NormalizeE164(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if region == "" {
		region = "US"
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Mask hides all but the country prefix and last four digits of an E.164 number.
func Mask(e164 string) string {
	if e164 == "" {
		return ""
	}
	digits := strings.TrimPrefix(e164, "+")
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}

	prefix := ""
	if strings.HasPrefix(e164, "+") {
		if num, err := phonenumbers.Parse(e164, ""); err == nil {
			prefix = "+" + strconv.Itoa(int(num.GetCountryCode()))
			digits = strings.TrimPrefix(digits, prefix[1:])
		}
	}
	if len(digits) <= 4 {
		return prefix + strings.Repeat("*", len(digits))
	}
	return prefix + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
