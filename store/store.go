// Package store executes the mutation requests the engine emits for
// non-survivors. The engine itself never touches storage: it hands each
// request here and the result is reported back per message.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emersion/go-maildir"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/mailkit/mdedup/dedupe"
	"github.com/mailkit/mdedup/model"
)

// ErrUnsupportedAction marks a request that cannot be honoured for the
// message's store type, e.g. deleting a single member of an mbox. Surfaced
// per message; never aborts the run.
var ErrUnsupportedAction = errors.New("action not supported for this store type")

// Request asks for exactly one action on one non-survivor.
type Request struct {
	Message  model.Message
	Survivor model.Message
	Action   dedupe.Action
}

type Options struct {
	// Export is the mbox non-survivors are appended to; created on first
	// use (the configuration validator already checked its availability).
	Export string
	// DestDir receives moved or copied non-survivors. A maildir gets a
	// proper delivery; any other directory gets plain .eml files.
	DestDir string
}

// Applier performs filesystem-level actions. A request either fully
// succeeds or fails with the pre-action state intact.
type Applier struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	exportFile *os.File
	exportW    *mboxlib.Writer
}

func New(opts Options, logger *slog.Logger) *Applier {
	return &Applier{opts: opts, logger: logger}
}

// Apply executes one request.
func (a *Applier) Apply(req Request) error {
	switch req.Action {
	case dedupe.ActionNone:
		return nil
	case dedupe.ActionDelete:
		return a.delete(req.Message)
	case dedupe.ActionSymlink:
		return a.relink(req, os.Symlink)
	case dedupe.ActionHardlink:
		return a.relink(req, os.Link)
	case dedupe.ActionMove:
		// Check deletability up front so a failed move does not leave a
		// stray copy behind.
		if req.Message.Path == "" {
			return fmt.Errorf("move %s: %w", req.Message.ID(), ErrUnsupportedAction)
		}
		if err := a.copy(req.Message); err != nil {
			return err
		}
		return a.delete(req.Message)
	case dedupe.ActionCopy:
		return a.copy(req.Message)
	case dedupe.ActionExport:
		return a.export(req.Message)
	default:
		return fmt.Errorf("%s: %w", req.Action, ErrUnsupportedAction)
	}
}

func (a *Applier) delete(msg model.Message) error {
	if msg.Path == "" {
		return fmt.Errorf("delete %s: %w", msg.ID(), ErrUnsupportedAction)
	}
	if err := os.Remove(msg.Path); err != nil {
		return fmt.Errorf("delete %s: %w", msg.ID(), err)
	}
	if a.logger != nil {
		a.logger.Debug("deleted message", "path", msg.Path)
	}
	return nil
}

// relink replaces a non-survivor's file with a link to the survivor. The
// link is created under a temporary name and renamed over the original, so a
// failure leaves the original file untouched.
func (a *Applier) relink(req Request, link func(oldname, newname string) error) error {
	if req.Message.Path == "" || req.Survivor.Path == "" {
		return fmt.Errorf("%s %s: %w", req.Action, req.Message.ID(), ErrUnsupportedAction)
	}

	tmp := req.Message.Path + ".mdedup-tmp"
	if err := link(req.Survivor.Path, tmp); err != nil {
		return fmt.Errorf("%s %s: %w", req.Action, req.Message.ID(), err)
	}
	if err := os.Rename(tmp, req.Message.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s %s: %w", req.Action, req.Message.ID(), err)
	}
	if a.logger != nil {
		a.logger.Debug("relinked message", "action", req.Action, "path", req.Message.Path, "survivor", req.Survivor.Path)
	}
	return nil
}

func (a *Applier) copy(msg model.Message) error {
	if a.isMaildirDest() {
		return a.deliver(msg)
	}

	name := filepath.Base(msg.Path)
	if name == "" || name == "." {
		name = sanitizeName(msg.Key) + ".eml"
	}
	target := filepath.Join(a.opts.DestDir, name)

	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("copy %s: destination %s already exists", msg.ID(), target)
	}
	if err := os.WriteFile(target, msg.Raw, 0o644); err != nil {
		return fmt.Errorf("copy %s: %w", msg.ID(), err)
	}
	if a.logger != nil {
		a.logger.Debug("copied message", "target", target)
	}
	return nil
}

// deliver writes the message into the destination maildir via a proper
// tmp-then-new delivery.
func (a *Applier) deliver(msg model.Message) error {
	delivery, err := maildir.NewDelivery(a.opts.DestDir)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", msg.ID(), err)
	}
	if _, err := delivery.Write(msg.Raw); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("deliver %s: %w", msg.ID(), err)
	}
	if err := delivery.Close(); err != nil {
		return fmt.Errorf("deliver %s: %w", msg.ID(), err)
	}
	if a.logger != nil {
		a.logger.Debug("delivered message", "maildir", a.opts.DestDir)
	}
	return nil
}

func (a *Applier) export(msg model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exportW == nil {
		file, err := os.OpenFile(a.opts.Export, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open export mbox: %w", err)
		}
		a.exportFile = file
		a.exportW = mboxlib.NewWriter(file)
	}

	w, err := a.exportW.CreateMessage(senderOf(msg), exportDate(msg))
	if err != nil {
		return fmt.Errorf("export %s: %w", msg.ID(), err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("export %s: %w", msg.ID(), err)
	}
	if a.logger != nil {
		a.logger.Debug("exported message", "mbox", a.opts.Export)
	}
	return nil
}

// Close flushes and closes the export mbox, if one was opened.
func (a *Applier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exportFile == nil {
		return nil
	}
	var firstErr error
	if err := a.exportW.Close(); err != nil {
		firstErr = fmt.Errorf("close export writer: %w", err)
	}
	if err := a.exportFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close export mbox: %w", err)
	}
	a.exportFile = nil
	a.exportW = nil
	return firstErr
}

func (a *Applier) isMaildirDest() bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		info, err := os.Stat(filepath.Join(a.opts.DestDir, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func senderOf(msg model.Message) string {
	if addr, err := mail.ParseAddress(msg.Header("From")); err == nil {
		return addr.Address
	}
	return "MAILER-DAEMON"
}

func exportDate(msg model.Message) time.Time {
	if !msg.Date.IsZero() {
		return msg.Date
	}
	return time.Now()
}

func sanitizeName(key string) string {
	var out []rune
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

var _ io.Closer = (*Applier)(nil)
