// Package hash derives a deterministic fingerprint from the configured
// subset of a message's headers. Messages sharing a fingerprint are
// duplicate candidates; confirming them is the dedupe package's job.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mailkit/mdedup/model"
)

// Fingerprint is an opaque digest of a message's canonical header material.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// TooFewHeadersError reports a message that exposes fewer of the configured
// headers than the minimum required for a solid fingerprint. Such a message
// cannot be grouped and must be surfaced to the caller.
type TooFewHeadersError struct {
	MessageID string
	Found     int
	Minimum   int
}

func (e *TooFewHeadersError) Error() string {
	return fmt.Sprintf("message %s: %d of %d minimal headers found, refusing to hash on sparse data",
		e.MessageID, e.Found, e.Minimum)
}

// Options controls fingerprint computation. Headers must be lower-cased and
// deduplicated, which config.LoadConfig guarantees.
type Options struct {
	Headers    []string
	MinHeaders int
	HashBody   bool
}

// Compute canonicalizes msg's headers and digests them into a Fingerprint.
// Identical canonical input always yields identical output; nothing here
// depends on arrival order, wall-clock time or memory addresses.
func Compute(msg model.Message, opts Options) (Fingerprint, error) {
	c := Canonicalize(msg, opts.Headers)
	if c.Found < opts.MinHeaders {
		return Fingerprint{}, &TooFewHeadersError{
			MessageID: msg.ID(),
			Found:     c.Found,
			Minimum:   opts.MinHeaders,
		}
	}

	h := sha256.New()
	h.Write(c.Bytes())
	if opts.HashBody {
		bodySum := sha256.Sum256(msg.Body)
		h.Write([]byte{0x1d})
		h.Write(bodySum[:])
	}

	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f, nil
}
