// Package report streams the run's machine-readable outcome to a JSONL
// file: one record per fingerprint, insufficiently identified message,
// rejected pair and resolution, plus a final summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mailkit/mdedup/dedupe"
	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/model"
	"github.com/mailkit/mdedup/stats"
)

type fingerprintRecord struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Hash      string `json:"hash"`
}

type tooFewHeadersRecord struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Found     int    `json:"found"`
	Minimum   int    `json:"minimum"`
}

type violationRecord struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	MessageA  string `json:"message_a"`
	MessageB  string `json:"message_b"`
	Delta     int64  `json:"delta"`
	Threshold int64  `json:"threshold"`
}

type outcomeRecord struct {
	MessageID string `json:"message_id"`
	Action    string `json:"action"`
}

type resolutionRecord struct {
	Type     string          `json:"type"`
	Hash     string          `json:"hash"`
	Survivor string          `json:"survivor"`
	Discards []outcomeRecord `json:"discards"`
	DryRun   bool            `json:"dry_run"`
}

type summaryRecord struct {
	Type            string `json:"type"`
	RunID           string `json:"run_id"`
	Scanned         int    `json:"scanned"`
	ReadErrors      int    `json:"read_errors"`
	Grouped         int    `json:"grouped"`
	TooFewHeaders   int    `json:"too_few_headers"`
	GroupsValidated int    `json:"groups_validated"`
	GroupsSplit     int    `json:"groups_split"`
	Survivors       int    `json:"survivors"`
	ActionsApplied  int    `json:"actions_applied"`
	ActionsFailed   int    `json:"actions_failed"`
}

// Writer appends JSONL records for one run. Safe for concurrent use.
type Writer struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewWriter creates the report file for the given run under dir.
func NewWriter(dir, runID string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("report directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run-%s.jsonl", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}

	return &Writer{path: path, file: file}, nil
}

func (w *Writer) Path() string {
	return w.path
}

// Fingerprint records one successfully hashed message.
func (w *Writer) Fingerprint(msg model.Message, fp hash.Fingerprint) error {
	return w.write(fingerprintRecord{Type: "fingerprint", MessageID: msg.ID(), Hash: fp.String()})
}

// TooFewHeaders records a message excluded from grouping.
func (w *Writer) TooFewHeaders(e *hash.TooFewHeadersError) error {
	return w.write(tooFewHeadersRecord{Type: "too_few_headers", MessageID: e.MessageID, Found: e.Found, Minimum: e.Minimum})
}

// Violation records one rejected candidate pair.
func (w *Writer) Violation(v *dedupe.Violation) error {
	return w.write(violationRecord{
		Type:      "violation",
		Kind:      string(v.Kind),
		MessageA:  v.MessageA,
		MessageB:  v.MessageB,
		Delta:     v.Delta,
		Threshold: v.Threshold,
	})
}

// Resolution records the survivor and outcomes of one confirmed group.
func (w *Writer) Resolution(fp hash.Fingerprint, res dedupe.Resolution, dryRun bool) error {
	rec := resolutionRecord{
		Type:     "resolution",
		Hash:     fp.String(),
		Survivor: res.Survivor.ID(),
		DryRun:   dryRun,
	}
	for _, d := range res.Discards {
		rec.Discards = append(rec.Discards, outcomeRecord{MessageID: d.Message.ID(), Action: string(d.Action)})
	}
	return w.write(rec)
}

// Summary records the run-level tally and should be the last record.
func (w *Writer) Summary(runID string, s stats.Summary) error {
	return w.write(summaryRecord{
		Type:            "summary",
		RunID:           runID,
		Scanned:         s.Scanned,
		ReadErrors:      s.ReadErrors,
		Grouped:         s.Grouped,
		TooFewHeaders:   s.TooFewHeaders,
		GroupsValidated: s.GroupsValidated,
		GroupsSplit:     s.GroupsSplit,
		Survivors:       s.Survivors,
		ActionsApplied:  s.ActionsApplied,
		ActionsFailed:   s.ActionsFailed,
	})
}

func (w *Writer) write(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode report record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("report writer is closed")
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write report record: %w", err)
	}
	return nil
}

// Close syncs and closes the report file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var firstErr error
	if err := w.file.Sync(); err != nil {
		firstErr = fmt.Errorf("sync report file: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close report file: %w", err)
	}
	w.file = nil
	return firstErr
}
