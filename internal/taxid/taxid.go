// Package taxid classifies login and registration identifiers. An
// identifier is either an email address, a national personal tax ID
// (11 digits, two mod-11 check digits), an organization tax ID
// (14 digits, mod-11 variant), or an underscore-separated username.
package taxid

import (
	"regexp"
	"strings"
)

// Kind is the classification of an identifier.
type Kind int

const (
	Unknown Kind = iota
	Email
	PersonalID
	OrganizationID
	Username
)

func (k Kind) String() string {
	switch k {
	case Email:
		return "email"
	case PersonalID:
		return "personal_id"
	case OrganizationID:
		return "organization_id"
	case Username:
		return "username"
	default:
		return "unknown"
	}
}

var emailRe = regexp.MustCompile(`^[^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*@([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}$`)

// Classify determines what kind of identifier the string is. Matching
// order: email grammar, personal tax-ID checksum, organization tax-ID
// checksum, then username (any string containing an underscore).
func Classify(identifier string) Kind {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Unknown
	}
	if emailRe.MatchString(strings.ToLower(identifier)) {
		return Email
	}
	digits := Normalize(identifier)
	if ValidPersonalID(digits) {
		return PersonalID
	}
	if ValidOrganizationID(digits) {
		return OrganizationID
	}
	if strings.Contains(identifier, "_") {
		return Username
	}
	return Unknown
}

// Normalize strips everything but digits from an identifier, so that
// formatted tax IDs ("111.444.777-35") compare equal to their bare form.
func Normalize(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for _, r := range identifier {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPersonalID reports whether digits is a checksum-valid 11-digit
// personal tax ID. The all-zero sentinel is rejected, as are inputs
// longer than 11 digits.
func ValidPersonalID(digits string) bool {
	if len(digits) != 11 || !numeric(digits) {
		return false
	}
	if digits == "00000000000" {
		return false
	}
	if checkDigit(digits[:9], 10) != int(digits[9]-'0') {
		return false
	}
	return checkDigit(digits[:10], 11) == int(digits[10]-'0')
}

// ValidOrganizationID reports whether digits is a checksum-valid
// 14-digit organization tax ID.
func ValidOrganizationID(digits string) bool {
	if len(digits) != 14 || !numeric(digits) {
		return false
	}
	if digits == "00000000000000" {
		return false
	}
	if orgCheckDigit(digits[:12]) != int(digits[12]-'0') {
		return false
	}
	return orgCheckDigit(digits[:13]) == int(digits[13]-'0')
}

// checkDigit computes a personal-ID check digit: digits are weighted
// from firstWeight down to 2, and the digit is (sum*10 mod 11), with
// 10 and 11 folded to zero.
func checkDigit(digits string, firstWeight int) int {
	sum := 0
	for i, r := range digits {
		sum += int(r-'0') * (firstWeight - i)
	}
	rem := (sum * 10) % 11
	if rem == 10 || rem == 11 {
		rem = 0
	}
	return rem
}

var orgWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

// orgCheckDigit computes an organization-ID check digit over the 12 or
// 13 leading digits using the descending 9..2 weight cycle.
func orgCheckDigit(digits string) int {
	weights := orgWeights[len(orgWeights)-len(digits):]
	sum := 0
	for i, r := range digits {
		sum += int(r-'0') * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
