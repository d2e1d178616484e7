package hash

import (
	"strings"
	"testing"

	"github.com/mailkit/mdedup/model"
)

func msgWithHeaders(fields ...model.HeaderField) model.Message {
	return model.Message{
		SourcePath: "/tmp/box",
		Key:        "1",
		Headers:    fields,
		Body:       []byte("body\n"),
	}
}

func defaultOpts() Options {
	return Options{
		Headers:    DefaultHeaders,
		MinHeaders: MinimalHeadersCount,
	}
}

func TestCompute_HeaderOrderIndependent(t *testing.T) {
	a := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)
	b := msgWithHeaders(
		model.HeaderField{Name: "Subject", Value: "Hello"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
	)

	opts := defaultOpts()
	fa, err := Compute(a, opts)
	if err != nil {
		t.Fatalf("Compute(a) error = %v", err)
	}
	fb, err := Compute(b, opts)
	if err != nil {
		t.Fatalf("Compute(b) error = %v", err)
	}
	if fa != fb {
		t.Errorf("fingerprints differ across header order: %s vs %s", fa, fb)
	}
}

func TestCompute_DistinctValuesDistinctFingerprints(t *testing.T) {
	base := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)
	other := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Goodbye"},
	)

	opts := defaultOpts()
	fa, err := Compute(base, opts)
	if err != nil {
		t.Fatalf("Compute(base) error = %v", err)
	}
	fb, err := Compute(other, opts)
	if err != nil {
		t.Fatalf("Compute(other) error = %v", err)
	}
	if fa == fb {
		t.Error("distinct subjects produced identical fingerprints")
	}
}

func TestCompute_TooFewHeaders(t *testing.T) {
	msg := msgWithHeaders(
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)

	opts := defaultOpts() // needs 4, message has 3
	_, err := Compute(msg, opts)
	if err == nil {
		t.Fatal("Compute() expected error for sparse headers, got nil")
	}
	tfe, ok := err.(*TooFewHeadersError)
	if !ok {
		t.Fatalf("Compute() error type = %T, want *TooFewHeadersError", err)
	}
	if tfe.Found != 3 || tfe.Minimum != 4 {
		t.Errorf("TooFewHeadersError = found %d min %d, want found 3 min 4", tfe.Found, tfe.Minimum)
	}
}

func TestCompute_ExactlyMinHeaders(t *testing.T) {
	msg := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)

	if _, err := Compute(msg, defaultOpts()); err != nil {
		t.Errorf("Compute() with exactly the minimum headers errored: %v", err)
	}
}

func TestCompute_RepeatedHeaderOccurrencesMatter(t *testing.T) {
	once := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)
	twice := msgWithHeaders(
		model.HeaderField{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "To", Value: "bob@example.com"},
		model.HeaderField{Name: "To", Value: "carol@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)

	opts := defaultOpts()
	fa, _ := Compute(once, opts)
	fb, _ := Compute(twice, opts)
	if fa == fb {
		t.Error("extra To occurrence did not change the fingerprint")
	}
}

func TestCompute_HashBody(t *testing.T) {
	fields := []model.HeaderField{
		{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		{Name: "From", Value: "alice@example.com"},
		{Name: "To", Value: "bob@example.com"},
		{Name: "Subject", Value: "Hello"},
	}
	a := msgWithHeaders(fields...)
	b := msgWithHeaders(fields...)
	b.Body = []byte("different body\n")

	headerOnly := defaultOpts()
	fa, _ := Compute(a, headerOnly)
	fb, _ := Compute(b, headerOnly)
	if fa != fb {
		t.Error("body change altered the header-only fingerprint")
	}

	withBody := defaultOpts()
	withBody.HashBody = true
	fa, _ = Compute(a, withBody)
	fb, _ = Compute(b, withBody)
	if fa == fb {
		t.Error("body change did not alter the body-inclusive fingerprint")
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{
			name:   "whitespace runs collapse",
			header: "from",
			value:  "  Alice \t Example  <alice@example.com> ",
			want:   "Alice Example <alice@example.com>",
		},
		{
			name:   "subject re prefix stripped",
			header: "subject",
			value:  "Re: [go-nuts] generics question",
			want:   "generics question",
		},
		{
			name:   "subject stacked list tags stripped",
			header: "subject",
			value:  "Re: Re: [dev] [dev] release notes",
			want:   "release notes",
		},
		{
			name:   "subject without prefix untouched",
			header: "subject",
			value:  "release notes",
			want:   "release notes",
		},
		{
			name:   "content-type parameters dropped",
			header: "content-type",
			value:  `text/plain; charset="utf-8"`,
			want:   "text/plain",
		},
		{
			name:   "date reduced to day in UTC",
			header: "date",
			value:  "Mon, 02 Jan 2006 23:30:00 -0700",
			want:   "2006/01/03 UTC",
		},
		{
			name:   "unparseable date kept verbatim",
			header: "date",
			value:  "not a date",
			want:   "not a date",
		},
		{
			name:   "lone bracketed address unquoted",
			header: "to",
			value:  "<bob@example.com>",
			want:   "bob@example.com",
		},
		{
			name:   "address list keeps brackets",
			header: "to",
			value:  "<bob@example.com>, <carol@example.com>",
			want:   "<bob@example.com>, <carol@example.com>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeValue(tt.header, tt.value)
			if got != tt.want {
				t.Errorf("normalizeValue(%q, %q) = %q, want %q", tt.header, tt.value, got, tt.want)
			}
		})
	}
}

func TestCanonicalize_SkipsBlankValues(t *testing.T) {
	msg := msgWithHeaders(
		model.HeaderField{Name: "From", Value: "   "},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)
	c := Canonicalize(msg, DefaultHeaders)
	if c.Found != 1 {
		t.Errorf("Canonicalize() Found = %d, want 1", c.Found)
	}
	if len(c.Pairs) != 1 || c.Pairs[0].Name != "subject" {
		t.Errorf("Canonicalize() Pairs = %v, want single subject pair", c.Pairs)
	}
}

func TestCanonical_Pretty(t *testing.T) {
	msg := msgWithHeaders(
		model.HeaderField{Name: "From", Value: "alice@example.com"},
		model.HeaderField{Name: "Subject", Value: "Hello"},
	)
	got := Canonicalize(msg, DefaultHeaders).Pretty()
	if !strings.Contains(got, "from: alice@example.com\n") {
		t.Errorf("Pretty() = %q, missing from line", got)
	}
	if !strings.Contains(got, "subject: Hello\n") {
		t.Errorf("Pretty() = %q, missing subject line", got)
	}
}
