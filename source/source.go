// Package source adapts on-disk mail stores into the read-only message
// stream the engine consumes. Read errors are surfaced per message and never
// abort the whole run.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mailkit/mdedup/config"
	"github.com/mailkit/mdedup/model"
)

// Required sub-folders of a properly structured maildir.
var maildirSubdirs = []string{"cur", "new", "tmp"}

// Source streams one mail store's messages as Envelopes.
type Source interface {
	Path() string
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

// Options captures the per-source settings shared by all adapters.
type Options struct {
	// Format forces "mbox" or "maildir"; empty auto-detects.
	Format string
	// TimeSource is config.TimeSourceDateHeader or config.TimeSourceCtime.
	TimeSource string
}

// Open resolves a mail source path into the right adapter. A file is an
// mbox; a directory featuring the cur/new/tmp sub-folders is a maildir.
func Open(path string, opts Options, logger *slog.Logger) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	format := opts.Format
	if format == "" {
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}
		if info.IsDir() {
			format = "maildir"
		} else {
			format = "mbox"
		}
	}

	switch format {
	case "maildir":
		for _, sub := range maildirSubdirs {
			info, err := os.Stat(filepath.Join(abs, sub))
			if err != nil || !info.IsDir() {
				return nil, fmt.Errorf("%s: missing maildir sub-directory %q", abs, sub)
			}
		}
		return &maildirSource{path: abs, opts: opts, logger: logger}, nil
	case "mbox":
		return &mboxSource{path: abs, opts: opts, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unrecognized input format %q", format)
	}
}

// Parse splits a raw message into its ordered header fields and body
// payload. Repeated headers keep one field per occurrence.
func Parse(raw []byte) ([]model.HeaderField, []byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var headers []model.HeaderField
	fields := th.Fields()
	for fields.Next() {
		headers = append(headers, model.HeaderField{
			Name:  fields.Key(),
			Value: strings.TrimSpace(fields.Value()),
		})
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return headers, body, nil
}

// Build assembles the read-only view the engine works with. modTime
// is the store-provided modification time, zero when the store has none.
func Build(raw []byte, sourcePath, key, filePath string, modTime time.Time, timeSource string) (model.Message, error) {
	headers, body, err := Parse(raw)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		SourcePath: sourcePath,
		Key:        key,
		Path:       filePath,
		Headers:    headers,
		Body:       body,
		Raw:        raw,
		Size:       int64(len(body)),
	}
	msg.Date = messageDate(msg, modTime, timeSource)
	return msg, nil
}

// messageDate picks the canonical timestamp. The two time sources are
// mutually exclusive; ctime falls back to the Date header for stores that
// carry no per-message modification time.
func messageDate(msg model.Message, modTime time.Time, timeSource string) time.Time {
	if timeSource == config.TimeSourceCtime && !modTime.IsZero() {
		return modTime
	}
	if value := msg.Header("Date"); value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func emit(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}
