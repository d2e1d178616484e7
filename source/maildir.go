package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-maildir"

	"github.com/mailkit/mdedup/model"
)

type maildirSource struct {
	path   string
	opts   Options
	logger *slog.Logger
}

func (s *maildirSource) Path() string {
	return s.path
}

func (s *maildirSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	dir := maildir.Dir(s.path)

	msgs, err := dir.Messages()
	if err != nil {
		return fmt.Errorf("list maildir %s: %w", s.path, err)
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.emitFile(ctx, out, m.Key(), m.Filename()); err != nil {
			return err
		}
	}

	// Messages still sitting in new/ are listed directly: go-maildir only
	// exposes them through Unseen, which moves them to cur, and a scan
	// must not mutate the store.
	entries, err := os.ReadDir(filepath.Join(s.path, "new"))
	if err != nil {
		return fmt.Errorf("list maildir %s new: %w", s.path, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		key := entry.Name()
		if idx := strings.Index(key, ":"); idx >= 0 {
			key = key[:idx]
		}
		if err := s.emitFile(ctx, out, key, filepath.Join(s.path, "new", entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (s *maildirSource) emitFile(ctx context.Context, out chan<- model.Envelope, key, filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return s.emitError(ctx, out, fmt.Errorf("%s: read %s: %w", s.path, key, err))
	}

	var modTime time.Time
	if info, err := os.Stat(filename); err == nil {
		modTime = info.ModTime()
	}

	msg, err := Build(raw, s.path, key, filename, modTime, s.opts.TimeSource)
	if err != nil {
		return s.emitError(ctx, out, fmt.Errorf("%s: parse %s: %w", s.path, key, err))
	}

	return emit(ctx, out, model.Envelope{Message: msg})
}

func (s *maildirSource) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if s.logger != nil {
		s.logger.Error("maildir stream error", "path", s.path, "err", err)
	}
	return emit(ctx, out, model.Envelope{Err: err})
}
