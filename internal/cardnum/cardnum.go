// Package cardnum generates and validates card numbers. A card number is a
// three character location code, an eight digit zero padded sequence, and a
// Luhn check digit computed over the digits of the base (the location
// letter is skipped).
package cardnum

import (
	"fmt"
	"strings"
)

// Generate builds a card number for the location and sequence value, for
// example T01 and 123 produce T0100000123 plus the check digit.
func Generate(locationCode string, sequence int64) (string, error) {
	code, err := NormalizeLocationCode(locationCode)
	if err != nil {
		return "", err
	}
	if sequence < 1 || sequence > 99999999 {
		return "", fmt.Errorf("sequence %d out of range", sequence)
	}
	base := fmt.Sprintf("%s%08d", code, sequence)
	return fmt.Sprintf("%s%d", base, Checksum(base)), nil
}

// IsValid reports whether s is a well formed card number with a correct
// check digit.
func IsValid(s string) bool {
	if len(s) != 12 {
		return false
	}
	if !isLocationCode(s[:3]) {
		return false
	}
	for i := 3; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return Checksum(s[:11]) == int(s[11]-'0')
}

// NormalizeLocationCode maps raw location identifiers onto the canonical
// three character form: an uppercase letter followed by two digits. A bare
// letter such as "T" becomes "T01". Anything else is rejected so a garbled
// code never mints a card number for the wrong issuing location.
func NormalizeLocationCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if isLocationCode(code) {
		return code, nil
	}
	if len(code) == 1 && code[0] >= 'A' && code[0] <= 'Z' {
		return code + "01", nil
	}
	return "", fmt.Errorf("invalid location code %q", raw)
}

func isLocationCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	return code[0] >= 'A' && code[0] <= 'Z' &&
		code[1] >= '0' && code[1] <= '9' &&
		code[2] >= '0' && code[2] <= '9'
}

// Checksum computes the Luhn check digit over the digits of base. Non
// digit characters are skipped. Walking right to left, every second digit
// is doubled and digit summed before adding into the total.
func Checksum(base string) int {
	sum := 0
	pos := 0
	for i := len(base) - 1; i >= 0; i-- {
		c := base[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if pos%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		pos++
	}
	return (10 - sum%10) % 10
}
