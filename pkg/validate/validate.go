// Package validate holds the identifier validation and standardisation rules
// that gate patient matching: NHS number modulus-11 checksum, UK postcode
// format, feed-specific dates of birth and sex codes. All checks are total:
// malformed input yields false (or an empty cleaned value), never a panic.
package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var ukPostcodePattern = regexp.MustCompile(`(?i)^([A-Z]{1,2}\d{1,2}[A-Z]?)\s*(\d[A-Z]{2})$`)

// IsValidNHSNumber checks the 10-digit NHS number against the modulus-11
// algorithm. Internal spaces are ignored.
func IsValidNHSNumber(value string) bool {
	cleaned := strings.TrimSpace(strings.ReplaceAll(value, " ", ""))
	if len(cleaned) != 10 {
		return false
	}

	total := 0
	for i, r := range cleaned {
		if !unicode.IsDigit(r) {
			return false
		}
		if i < 9 {
			total += int(r-'0') * (10 - i)
		}
	}

	check := 11 - total%11
	if check == 11 {
		check = 0
	}
	if check == 10 {
		return false
	}

	return check == int(cleaned[9]-'0')
}

// IsValidUKPostcode checks the outward/inward UK postcode shape, permitting
// variable internal whitespace and any letter case.
func IsValidUKPostcode(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	return ukPostcodePattern.MatchString(trimmed)
}

// IsValidDateOfBirth parses value against the feed's date layout.
func IsValidDateOfBirth(value, layout string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	_, err := time.Parse(layout, trimmed)
	return err == nil
}

// IsValidGender checks non-empty membership in the feed's allowed set,
// case-insensitively.
func IsValidGender(value string, allowed []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return false
	}
	for _, a := range allowed {
		if trimmed == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

// CleanNHSNumber returns the space-stripped NHS number when checksum-valid,
// empty otherwise.
func CleanNHSNumber(value string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(value, " ", ""))
	if !IsValidNHSNumber(cleaned) {
		return ""
	}
	return cleaned
}

// CleanPostcode standardises to upper-case 'AA9 9AA' form, empty when the
// result does not match the UK postcode pattern.
func CleanPostcode(value string) string {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), " ", ""))
	if compact == "" {
		return ""
	}

	formatted := compact
	if len(compact) >= 5 {
		formatted = compact[:len(compact)-3] + " " + compact[len(compact)-3:]
	}

	if !ukPostcodePattern.MatchString(formatted) {
		return ""
	}
	return formatted
}

// CleanName trims and title-cases a name, empty when nothing remains.
func CleanName(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return titleCase(trimmed)
}

// CleanSex lower-cases and trims a sex/gender code. Membership in the feed's
// allowed set is checked separately by IsValidGender.
func CleanSex(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CleanDateOfBirth parses value with the feed layout and reformats it as
// ISO-8601 (the MPI storage form). Unparseable or future dates clean to empty.
func CleanDateOfBirth(value, layout string, now time.Time) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parsed, err := time.Parse(layout, trimmed)
	if err != nil {
		return ""
	}
	if parsed.After(now) {
		return ""
	}
	return parsed.Format("2006-01-02")
}

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	startOfWord := true
	for _, r := range strings.ToLower(s) {
		if startOfWord && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		} else {
			b.WriteRune(r)
			if !unicode.IsLetter(r) && r != '\'' {
				startOfWord = true
			}
		}
	}
	return b.String()
}
