// Package phone turns freeform phone input into the digit strings vendors expect.
//
// Decision table applied by Normalize, after stripping every non-digit
// (a leading "00" international prefix is dropped too):
//
//	digits start with a known country code          -> kept (a trunk 0 right after the code is removed)
//	10 digits starting with "05" (local trunk form)  -> default country code + digits without the 0
//	9 digits starting with "5" (local mobile)        -> default country code + digits
//	anything else                                    -> kept as typed
//
// The result must be 8 to 15 digits long, otherwise ErrInvalidNumber is returned.
package phone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// Format selects how a normalized number is rendered for a provider.
type Format int

const (
	// Bare renders digits only, e.g. 971501234567.
	Bare Format = iota
	// Plus renders E.164 with a leading +, e.g. +971501234567.
	Plus
)

func (f Format) String() string {
	if f == Plus {
		return "plus"
	}
	return "bare"
}

const (
	minDigits = 8
	maxDigits = 15
)

var ErrInvalidNumber = errors.New("invalid phone number")

// Normalizer holds the country inference rules.
type Normalizer struct {
	region      string
	defaultCode string
	knownCodes  []string
}

// NewNormalizer builds a normalizer that infers defaultRegion's calling code for local
// numbers and recognises the calling codes of defaultRegion and extraRegions as already
// international. Regions are ISO 3166 codes such as "AE" or "SA".
func NewNormalizer(defaultRegion string, extraRegions ...string) (*Normalizer, error) {
	defaultRegion = strings.ToUpper(strings.TrimSpace(defaultRegion))
	code := phonenumbers.GetCountryCodeForRegion(defaultRegion)
	if code == 0 {
		return nil, fmt.Errorf("unknown default region %q", defaultRegion)
	}

	n := &Normalizer{
		region:      defaultRegion,
		defaultCode: strconv.Itoa(code),
	}
	n.knownCodes = append(n.knownCodes, n.defaultCode)
	for _, r := range extraRegions {
		r = strings.ToUpper(strings.TrimSpace(r))
		c := phonenumbers.GetCountryCodeForRegion(r)
		if c == 0 {
			return nil, fmt.Errorf("unknown region %q", r)
		}
		cs := strconv.Itoa(c)
		if !n.isKnown(cs) {
			n.knownCodes = append(n.knownCodes, cs)
		}
	}
	return n, nil
}

// DefaultCode returns the calling code used for local numbers.
func (n *Normalizer) DefaultCode() string {
	return n.defaultCode
}

func (n *Normalizer) isKnown(code string) bool {
	for _, k := range n.knownCodes {
		if k == code {
			return true
		}
	}
	return false
}

// Normalize canonicalizes raw into the requested format.
func (n *Normalizer) Normalize(raw string, format Format) (string, error) {
	digits := Digits(raw)
	if strings.HasPrefix(strings.TrimSpace(raw), "00") {
		digits = strings.TrimPrefix(digits, "00")
	}
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidNumber, raw)
	}

	digits = n.applyCountryCode(digits)

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidNumber, raw, len(digits))
	}

	if format == Plus {
		return "+" + digits, nil
	}
	return digits, nil
}

func (n *Normalizer) applyCountryCode(digits string) string {
	for _, code := range n.knownCodes {
		if strings.HasPrefix(digits, code) {
			if strings.HasPrefix(digits[len(code):], "0") {
				return code + digits[len(code)+1:]
			}
			return digits
		}
	}

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "05"):
		return n.defaultCode + digits[1:]
	case len(digits) == 9 && strings.HasPrefix(digits, "5"):
		return n.defaultCode + digits
	}
	return digits
}

// Valid reports whether raw parses as a real, dialable number. It is stricter than
// Normalize and is used to warn admins about suspicious contacts.
func (n *Normalizer) Valid(raw string) bool {
	normalized, err := n.Normalize(raw, Plus)
	if err != nil {
		return false
	}
	num, err := phonenumbers.Parse(normalized, n.region)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// LooksValid is the length-only check: 8 to 15 digits after stripping.
func LooksValid(raw string) bool {
	d := Digits(raw)
	return len(d) >= minDigits && len(d) <= maxDigits
}

// Digits strips every non-digit character.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if v, ok := localDigit(r); ok {
			// Arabic-Indic digits typed on mobile keyboards
			b.WriteRune('0' + v)
		}
	}
	return b.String()
}

func localDigit(r rune) (rune, bool) {
	if !unicode.IsDigit(r) {
		return 0, false
	}
	for _, base := range []rune{0x0660, 0x06F0, 0xFF10} {
		if r >= base && r <= base+9 {
			return r - base, true
		}
	}
	return 0, false
}
