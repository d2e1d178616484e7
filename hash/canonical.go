package hash

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/mailkit/mdedup/model"
)

// DefaultHeaders is the ordered header list used to fingerprint a mail when
// the user does not supply their own.
//
// Cc is excluded because mailing list software sometimes trims list members
// from it to avoid sending duplicates, so the copy reflected back from the
// list server differs from the copy the MUA saved at send-time. Bcc is
// excluded for the same reason, and Reply-To because a mail cc'd to two
// lists can come back with different Reply-To munging.
var DefaultHeaders = []string{
	"date",
	"from",
	"to",
	"subject",
	"mime-version",
	"content-type",
	"content-disposition",
	"user-agent",
	"x-priority",
	"message-id",
}

// MinimalHeadersCount is the default number of found headers below which a
// fingerprint is considered too weak to group on.
const MinimalHeadersCount = 4

var (
	spaceRuns     = regexp.MustCompile(`\s+`)
	subjectPrefix = regexp.MustCompile(`(?s)^([Rr]e: )*(\[\w[\w_-]+\w\] )+(.+)`)
	loneAddress   = regexp.MustCompile(`^<[^<>,]+>$`)
)

// Canonical is the ordered key material extracted from one message: the
// configured headers, in configured order, all occurrences included.
type Canonical struct {
	Pairs []model.HeaderField
	// Found counts the distinct configured headers that contributed at
	// least one non-blank value.
	Found int
}

// Canonicalize extracts the configured headers from msg. Lookup is
// case-insensitive; names must already be lower-cased (the configuration
// validator guarantees this). Headers absent from the message are omitted.
func Canonicalize(msg model.Message, names []string) Canonical {
	var c Canonical
	for _, name := range names {
		found := false
		for _, value := range msg.HeaderAll(name) {
			canonical := normalizeValue(name, value)
			if canonical == "" {
				continue
			}
			c.Pairs = append(c.Pairs, model.HeaderField{Name: name, Value: canonical})
			found = true
		}
		if found {
			c.Found++
		}
	}
	return c
}

// Bytes renders the pairs into the unambiguous byte form the fingerprint is
// computed over. NUL separates name from value and RS terminates each pair;
// neither byte can occur in header syntax.
func (c Canonical) Bytes() []byte {
	var buf strings.Builder
	for _, p := range c.Pairs {
		buf.WriteString(p.Name)
		buf.WriteByte(0x00)
		buf.WriteString(p.Value)
		buf.WriteByte(0x1e)
	}
	return []byte(buf.String())
}

// Pretty renders the pairs for human display, one "name: value" per line.
func (c Canonical) Pretty() string {
	var buf strings.Builder
	for _, p := range c.Pairs {
		buf.WriteString(p.Name)
		buf.WriteString(": ")
		buf.WriteString(p.Value)
		buf.WriteByte('\n')
	}
	return buf.String()
}

// normalizeValue reduces a header value to its canonical form so that
// cosmetic differences introduced between copies of the same mail do not
// change the fingerprint.
func normalizeValue(name, value string) string {
	value = strings.TrimSpace(spaceRuns.ReplaceAllString(value, " "))

	switch name {
	case "subject":
		// Trim "Re:" and mailing list "[tag]" prefixes. A mail cc'd to
		// several lists gets a different prefix from each, which must
		// not defeat duplicate detection.
		for {
			m := subjectPrefix.FindStringSubmatch(value)
			if m == nil {
				break
			}
			value = m[3]
		}
	case "content-type":
		// List servers munge Content-Type parameters (quote stripping
		// on charset, per-recipient multipart boundaries), so only the
		// media type itself is kept.
		if idx := strings.Index(value, ";"); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
	case "date":
		// Timestamps on copies of one mail can differ by seconds or
		// hours, so only honour the day.
		if t, err := mail.ParseDate(value); err == nil {
			value = t.UTC().Format("2006/01/02") + " UTC"
		}
	case "to":
		// Parsers sometimes strip the <> brackets from a lone address;
		// strip them always so both copies canonicalize alike.
		if loneAddress.MatchString(value) {
			value = strings.Trim(value, "<>")
		}
	}

	return value
}
