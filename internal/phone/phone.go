// Package phone turns free-form phone input into the canonical +<digits>
// form used as the code store key, and explains why input was rejected.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason identifies why a phone number was rejected.
type Reason string

const (
	ReasonEmpty         Reason = "empty"
	ReasonUnknownFormat Reason = "unknown_format"
	ReasonBadPrefix     Reason = "bad_prefix"
	ReasonTooShort      Reason = "too_short"
	ReasonTooLong       Reason = "too_long"
)

// ValidationError describes a rejected phone number.
type ValidationError struct {
	Input       string
	Normalized  string
	Reason      Reason
	CountryCode string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return "phone number is required"
	case ReasonBadPrefix:
		return "phone number must start with + and a country code"
	case ReasonTooShort:
		if e.CountryCode != "" {
			return fmt.Sprintf("phone number is too short for country code +%s", e.CountryCode)
		}
		return "phone number is too short"
	case ReasonTooLong:
		if e.CountryCode != "" {
			return fmt.Sprintf("phone number is too long for country code +%s", e.CountryCode)
		}
		return "phone number is too long"
	default:
		return "phone number format is not recognized"
	}
}

// Rule bounds the national significant number length for a calling code.
type Rule struct {
	MinLen int
	MaxLen int
}

// Fallback bounds apply to calling codes missing from Rules.
const (
	fallbackMin = 6
	fallbackMax = 14
)

// Rules maps country calling codes to national number length bounds.
// +1 accepts 9 digits as well as the NANP 10 for legacy short test numbers.
var Rules = map[string]Rule{
	"1":  {MinLen: 9, MaxLen: 10},
	"7":  {MinLen: 10, MaxLen: 10},
	"33": {MinLen: 9, MaxLen: 9},
	"34": {MinLen: 9, MaxLen: 9},
	"39": {MinLen: 6, MaxLen: 11},
	"44": {MinLen: 9, MaxLen: 10},
	"49": {MinLen: 6, MaxLen: 13},
	"52": {MinLen: 10, MaxLen: 10},
	"55": {MinLen: 10, MaxLen: 11},
	"61": {MinLen: 9, MaxLen: 9},
	"81": {MinLen: 9, MaxLen: 10},
	"86": {MinLen: 10, MaxLen: 11},
	"91": {MinLen: 10, MaxLen: 10},
}

var (
	canonicalRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	digitsRe    = regexp.MustCompile(`^\+\d+$`)
	separators  = strings.NewReplacer(" ", "", "\t", "", "\n", "", "(", "", ")", "", "-", "", ".", "")
)

// Number is a validated phone number in canonical +<digits> form.
type Number string

func (n Number) String() string { return string(n) }

// CountryCode returns the recognized calling code, or "" when the number
// was accepted under the fallback bounds.
func (n Number) CountryCode() string {
	cc, _, _ := splitCountry(strings.TrimPrefix(string(n), "+"))
	return cc
}

// Digits returns the number without the leading +, as most gateways expect.
func (n Number) Digits() string {
	return strings.TrimPrefix(string(n), "+")
}

// Normalize strips separators, rewrites a leading 00 to + and prepends + when
// missing. It does not validate; Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := separators.Replace(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "+"):
		return s
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	default:
		return "+" + s
	}
}

// Parse normalizes and validates raw input.
func Parse(raw string) (Number, error) {
	normalized := Normalize(raw)
	if err := check(raw, normalized); err != nil {
		return "", err
	}
	return Number(normalized), nil
}

// Result is the outcome of Validate.
type Result struct {
	Valid      bool
	Normalized string
	Err        *ValidationError
}

// Validate reports whether raw is an acceptable phone number along with its
// normalized form, so callers can render reason-specific guidance.
func Validate(raw string) Result {
	normalized := Normalize(raw)
	if err := check(raw, normalized); err != nil {
		return Result{Normalized: normalized, Err: err}
	}
	return Result{Valid: true, Normalized: normalized}
}

func check(raw, normalized string) *ValidationError {
	fail := func(reason Reason, cc string) *ValidationError {
		return &ValidationError{Input: raw, Normalized: normalized, Reason: reason, CountryCode: cc}
	}

	if normalized == "" {
		return fail(ReasonEmpty, "")
	}
	if !digitsRe.MatchString(normalized) {
		return fail(ReasonUnknownFormat, "")
	}
	if strings.HasPrefix(normalized, "+0") {
		return fail(ReasonBadPrefix, "")
	}
	if !canonicalRe.MatchString(normalized) {
		if len(normalized) < 8 {
			return fail(ReasonTooShort, "")
		}
		return fail(ReasonTooLong, "")
	}

	cc, national, rule := splitCountry(normalized[1:])
	switch {
	case len(national) < rule.MinLen:
		return fail(ReasonTooShort, cc)
	case len(national) > rule.MaxLen:
		return fail(ReasonTooLong, cc)
	}
	return nil
}

// splitCountry finds the longest known calling code prefix. Unknown codes
// return an empty code and the fallback rule applied to everything after the
// first digit.
func splitCountry(digits string) (string, string, Rule) {
	for n := 3; n >= 1; n-- {
		if len(digits) <= n {
			continue
		}
		if rule, ok := Rules[digits[:n]]; ok {
			return digits[:n], digits[n:], rule
		}
	}
	if digits == "" {
		return "", "", Rule{MinLen: fallbackMin, MaxLen: fallbackMax}
	}
	return "", digits[1:], Rule{MinLen: fallbackMin, MaxLen: fallbackMax}
}
