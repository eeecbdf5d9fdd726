package validate

import (
	"testing"
	"time"
)

func TestIsValidNHSNumber(t *testing.T) {
	valid := []string{
		"9434765919",
		"943 476 5919", // internal spaces ignored
		"4010232137",
	}
	for _, v := range valid {
		if !IsValidNHSNumber(v) {
			t.Fatalf("expected %q to be valid", v)
		}
	}

	invalid := []string{
		"",
		"943476591",   // too short
		"94347659190", // too long
		"943476591x",
		"9434765918", // wrong check digit
		"8434765919", // mutated first digit
		"0000000060", // computed check digit of 10 is never valid
		"  ",
	}
	for _, v := range invalid {
		if IsValidNHSNumber(v) {
			t.Fatalf("expected %q to be invalid", v)
		}
	}
}

func TestCleanNHSNumber(t *testing.T) {
	if got := CleanNHSNumber("943 476 5919"); got != "9434765919" {
		t.Fatalf("expected standardised number, got %q", got)
	}
	if got := CleanNHSNumber("9434765918"); got != "" {
		t.Fatalf("expected empty for invalid checksum, got %q", got)
	}
}

func TestIsValidUKPostcode(t *testing.T) {
	valid := []string{"SW1A 1AA", "sw1a1aa", "M1 1AE", "B33 8TH", "CR2 6XH", "DN55 1PT", "ec1a  1bb"}
	for _, v := range valid {
		if !IsValidUKPostcode(v) {
			t.Fatalf("expected %q to be valid", v)
		}
	}

	invalid := []string{"", "12345", "SW1A 1A", "AAA 1AA", "SW1A 1AAA", "1A 1AA"}
	for _, v := range invalid {
		if IsValidUKPostcode(v) {
			t.Fatalf("expected %q to be invalid", v)
		}
	}
}

func TestCleanPostcode(t *testing.T) {
	if got := CleanPostcode("sw1a1aa"); got != "SW1A 1AA" {
		t.Fatalf("expected 'SW1A 1AA', got %q", got)
	}
	if got := CleanPostcode("m11ae"); got != "M1 1AE" {
		t.Fatalf("expected 'M1 1AE', got %q", got)
	}
	if got := CleanPostcode("not a postcode"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestIsValidDateOfBirth(t *testing.T) {
	if !IsValidDateOfBirth("1980-01-15", "2006-01-02") {
		t.Fatal("expected ISO date to parse")
	}
	if !IsValidDateOfBirth("15/01/1980", "02/01/2006") {
		t.Fatal("expected feed-format date to parse")
	}
	if IsValidDateOfBirth("", "2006-01-02") {
		t.Fatal("expected empty input to be invalid")
	}
	if IsValidDateOfBirth("   ", "2006-01-02") {
		t.Fatal("expected whitespace input to be invalid")
	}
	if IsValidDateOfBirth("15/01/1980", "2006-01-02") {
		t.Fatal("expected layout mismatch to be invalid")
	}
}

func TestCleanDateOfBirth(t *testing.T) {
	now := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	if got := CleanDateOfBirth("15/01/1980", "02/01/2006", now); got != "1980-01-15" {
		t.Fatalf("expected ISO form, got %q", got)
	}
	if got := CleanDateOfBirth("15/01/2090", "02/01/2006", now); got != "" {
		t.Fatalf("expected future date to clean to empty, got %q", got)
	}
	if got := CleanDateOfBirth("garbage", "02/01/2006", now); got != "" {
		t.Fatalf("expected unparseable date to clean to empty, got %q", got)
	}
}

func TestIsValidGender(t *testing.T) {
	allowed := []string{"male", "female", "other", "unknown"}
	if !IsValidGender("Male", allowed) {
		t.Fatal("expected case-insensitive membership")
	}
	if IsValidGender("", allowed) {
		t.Fatal("expected empty value to be invalid")
	}
	if IsValidGender("m", allowed) {
		t.Fatal("expected non-member to be invalid")
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName("  o'brien "); got != "O'brien" {
		t.Fatalf("unexpected cleaned name %q", got)
	}
	if got := CleanName("ANNE-MARIE"); got != "Anne-Marie" {
		t.Fatalf("unexpected cleaned name %q", got)
	}
	if got := CleanName("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
