package report

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/mailkit/mdedup/dedupe"
	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/model"
	"github.com/mailkit/mdedup/stats"
)

func TestWriter_Records(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "test-run")
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	msg := model.Message{SourcePath: "/tmp/box", Key: "1"}
	fp := hash.Fingerprint{1, 2, 3}

	if err := w.Fingerprint(msg, fp); err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if err := w.TooFewHeaders(&hash.TooFewHeadersError{MessageID: "/tmp/box:2", Found: 2, Minimum: 4}); err != nil {
		t.Fatalf("TooFewHeaders() error = %v", err)
	}
	if err := w.Violation(&dedupe.Violation{
		Kind: dedupe.SizeDiffAboveThreshold, MessageA: "/tmp/box:1", MessageB: "/tmp/box:3",
		Delta: 600, Threshold: 512,
	}); err != nil {
		t.Fatalf("Violation() error = %v", err)
	}
	res := dedupe.Resolution{
		Survivor: msg,
		Discards: []dedupe.Outcome{{Message: model.Message{SourcePath: "/tmp/box", Key: "4"}, Action: dedupe.ActionDelete}},
	}
	if err := w.Resolution(fp, res, true); err != nil {
		t.Fatalf("Resolution() error = %v", err)
	}
	if err := w.Summary("test-run", stats.Summary{Scanned: 4, Grouped: 3}); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	file, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var types []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", scanner.Text(), err)
		}
		types = append(types, rec.Type)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	want := []string{"fingerprint", "too_few_headers", "violation", "resolution", "summary"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("record types = %v, want %v", types, want)
	}
}

func TestNewWriter_RefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "clash")
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer w.Close()

	if _, err := NewWriter(dir, "clash"); err == nil {
		t.Error("NewWriter() overwrote an existing report file")
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "closed")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Fingerprint(model.Message{}, hash.Fingerprint{}); err == nil {
		t.Error("Fingerprint() succeeded on a closed writer")
	}
}
