package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/mailkit/mdedup/model"
)

type mboxSource struct {
	path   string
	opts   Options
	logger *slog.Logger
}

func (s *mboxSource) Path() string {
	return s.path
}

func (s *mboxSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	var modTime time.Time
	if info, err := file.Stat(); err == nil {
		modTime = info.ModTime()
	}

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// The mbox stream cannot be resynchronized after a
			// framing error; report it and stop this source.
			return s.emitError(ctx, out, fmt.Errorf("%s: message %d: %w", s.path, idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := s.emitError(ctx, out, fmt.Errorf("%s: message %d read: %w", s.path, idx, err)); err != nil {
				return err
			}
			continue
		}

		msg, err := Build(raw, s.path, strconv.Itoa(idx), "", modTime, s.opts.TimeSource)
		if err != nil {
			if err := s.emitError(ctx, out, fmt.Errorf("%s: message %d parse: %w", s.path, idx, err)); err != nil {
				return err
			}
			continue
		}

		if err := emit(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (s *mboxSource) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if s.logger != nil {
		s.logger.Error("mbox stream error", "path", s.path, "err", err)
	}
	return emit(ctx, out, model.Envelope{Err: err})
}
