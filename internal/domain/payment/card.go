package payment

import (
	"strings"
	"time"

	"github.com/xenking/course-checkout/internal/domain/apperr"
)

// normalizeNumber strips spaces and dashes from a card number.
func normalizeNumber(n string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, n)
}

// ValidateCard checks the card fields before tokenization. The card is valid
// through the last day of its expiry month.
func ValidateCard(c Card, now time.Time) error {
	var v apperr.Invalid

	if strings.TrimSpace(c.Name) == "" {
		v.Add("card.name", "required")
	}

	number := normalizeNumber(c.Number)
	switch {
	case number == "":
		v.Add("card.number", "required")
	case len(number) < 12 || len(number) > 19 || !digits(number):
		v.Add("card.number", "must be 12 to 19 digits")
	case !luhn(number):
		v.Add("card.number", "failed checksum")
	}

	if c.ExpirationMonth < 1 || c.ExpirationMonth > 12 {
		v.Add("card.expirationMonth", "must be between 1 and 12")
	} else {
		y, m, _ := now.Date()
		if c.ExpirationYear < y || (c.ExpirationYear == y && c.ExpirationMonth < int(m)) {
			v.Add("card.expirationYear", "card has expired")
		}
	}

	if n := len(c.SecurityCode); n < 3 || n > 4 || !digits(c.SecurityCode) {
		v.Add("card.securityCode", "must be 3 or 4 digits")
	}

	return v.Err()
}

func digits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// luhn validates a digit string with the Luhn checksum.
func luhn(number string) bool {
	var sum int
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
