package utils

import (
	"regexp"
	"strings"
)

var (
	nationalCodePattern = regexp.MustCompile(`^\d{10}$`)
	mobilePattern       = regexp.MustCompile(`^09[0-9]{9}$`)
)

// ValidNationalCode reports whether code is a 10-digit national identifier with a valid check digit.
//
// The first nine digits are weighted 10 down to 2 and summed; r is the sum mod 11.
// When r < 2 the check digit must equal r, otherwise it must equal 11 - r.
// Codes made of one repeated digit are not rejected.
func ValidNationalCode(code string) bool {
	if !nationalCodePattern.MatchString(code) {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(code[i]-'0') * (10 - i)
	}
	check := int(code[9] - '0')
	r := sum % 11
	if r < 2 {
		return check == r
	}
	return check == 11-r
}

// ValidMobile reports whether phone is an 11-digit mobile number starting with 09.
func ValidMobile(phone string) bool {
	return mobilePattern.MatchString(phone)
}

// NormalizeDigits maps Persian and Arabic-Indic digits to ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}
