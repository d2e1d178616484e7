package model

import (
	"fmt"
	"strings"
	"time"
)

// HeaderField is a single header occurrence. Repeated headers keep one
// HeaderField per occurrence, in the order the source presented them.
type HeaderField struct {
	Name  string
	Value string
}

// Message is a read-only view over one mail item. The engine never mutates
// it; ownership stays with the source adapter that produced it.
type Message struct {
	// SourcePath identifies the box the message came from (file path,
	// maildir path or imap URL).
	SourcePath string
	// Key is the store-specific member key: maildir key, mbox record
	// index, or imap UID.
	Key string
	// Path is the file backing this message, when one exists. Empty for
	// mbox and imap members.
	Path string

	Headers []HeaderField
	Body    []byte
	// Raw is the full message as read from the store, headers included.
	// Actions that materialize the message elsewhere (copy, export) write
	// these bytes.
	Raw []byte
	// Size is the byte length of the body payload, headers excluded.
	Size int64
	// Date is the canonical timestamp per the configured time source.
	Date time.Time

	// Seq is the observation order across the whole run, assigned by the
	// runner. Used as the final tie-break in selection.
	Seq int
}

// ID returns a stable human-readable identity for reports and logs.
func (m Message) ID() string {
	return fmt.Sprintf("%s:%s", m.SourcePath, m.Key)
}

// HeaderAll returns every value of the named header, case-insensitively, in
// occurrence order.
func (m Message) HeaderAll(name string) []string {
	var values []string
	for _, f := range m.Headers {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Header returns the first value of the named header, or "".
func (m Message) Header(name string) string {
	for _, f := range m.Headers {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Envelope wraps a message alongside an optional error encountered while
// reading it from its store.
type Envelope struct {
	Message Message
	Err     error
}
