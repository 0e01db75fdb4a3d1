package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/rabby420bd/tj/models"
)

// OrderIDFunc builds an order id candidate. attempt starts at 0 and is
// bumped after each collision.
type OrderIDFunc func(createdAt time.Time, phone string, attempt int) string

// DefaultOrderID returns "TJ" + last 6 digits of the Unix millisecond
// timestamp (shifted by attempt) + last 3 digits of the phone number.
func DefaultOrderID(createdAt time.Time, phone string, attempt int) string {
	ms := createdAt.UnixMilli() + int64(attempt)
	return fmt.Sprintf("%s%06d%s", models.OrderIDPrefix, ms%1_000_000, lastDigits(phone, 3))
}

// lastDigits returns the last n digits of s as ASCII, left-padded with
// zeros. Bengali digits are transliterated; every other rune is dropped.
func lastDigits(s string, n int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case '0' <= r && r <= '9':
			b.WriteRune(r)
		case '০' <= r && r <= '৯':
			b.WriteRune('0' + (r - '০'))
		}
	}
	digits := b.String()
	if len(digits) < n {
		return strings.Repeat("0", n-len(digits)) + digits
	}
	return digits[len(digits)-n:]
}

// IsOrderIDQuery reports whether a tracking query names an order id rather
// than a phone number.
func IsOrderIDQuery(q string) bool {
	return strings.HasPrefix(strings.ToUpper(q), models.OrderIDPrefix)
}
