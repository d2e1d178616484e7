package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailkit/mdedup/dedupe"
	"github.com/mailkit/mdedup/hash"
)

// Sources of a mail's canonical timestamp.
const (
	TimeSourceDateHeader = "date-header"
	TimeSourceCtime      = "ctime"
)

// Default thresholds, in bytes. The size threshold bounds the payload size
// difference tolerated between two mails sharing a fingerprint; it has to be
// at least large enough to allow for footers added by mailing list servers.
// The content threshold bounds the unified diff of their payloads.
const (
	DefaultSizeThreshold    = 512
	DefaultContentThreshold = 768
)

// Config captures all validated run parameters. It is built once by
// LoadConfig and never mutated afterwards; sharing it across workers is safe.
type Config struct {
	Sources []string

	HashHeaders []string
	HashBody    bool
	MinHeaders  int

	SizeThreshold    int64
	ContentThreshold int64

	TimeSource string
	Strategy   dedupe.Strategy
	Regexp     *regexp.Regexp
	Action     dedupe.Action

	Export       string
	ExportAppend bool
	DestDir      string

	DryRun   bool
	HashOnly bool
	ShowDiff bool
	Jobs     int

	InputFormat string
	IMAPPass    string

	LogLevel  string
	LogDir    string
	ReportDir string
}

// RegisterFlags attaches all CLI flags to the provided command. Unknown
// flags are rejected by cobra before LoadConfig runs.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.BoolP("dry-run", "n", false, "Apply the selection strategy and report which action would have been performed, without touching any store")
	flags.BoolP("hash-only", "H", false, "Compute and display the fingerprints used to identify duplicates, then exit without deduplicating")
	// No shorthand: cobra reserves -h for the help flag it registers at
	// Execute time.
	flags.StringArray("hash-header", hash.DefaultHeaders, "Ordered, case-insensitive list of headers used to fingerprint a mail; repeat the flag to build the list")
	flags.Bool("hash-body", false, "Mix a digest of the message body into the fingerprint")
	flags.Int("min-headers", hash.MinimalHeadersCount, "Minimum number of found headers below which a message is reported as insufficiently identified")
	flags.Int64P("size-threshold", "S", DefaultSizeThreshold, "Maximum payload size difference in bytes between mails sharing a fingerprint; -1 disables the check")
	flags.Int64P("content-threshold", "C", DefaultContentThreshold, "Maximum unified-diff size in bytes between mail payloads sharing a fingerprint; -1 disables the check")
	flags.BoolP("show-diff", "d", false, "Log the unified diff of duplicates not within thresholds")
	flags.StringP("strategy", "s", "", "Selection strategy applied within each duplicate group; if not set, duplicates are grouped and counted only")
	flags.StringP("time-source", "t", TimeSourceDateHeader, "Source of a mail's time reference: date-header or ctime")
	flags.StringP("regexp", "r", "", "Regular expression against a mail file path; required by the matching-path strategies")
	flags.StringP("action", "a", "", "Action performed on every non-survivor: delete, symlink, hardlink, move, copy or export")
	flags.StringP("export", "e", "", "Path of the mbox that export appends non-survivors to; must not already exist unless --export-append is set")
	flags.Bool("export-append", false, "Append to the export mbox if it already exists")
	flags.String("dest", "", "Destination directory for the move and copy actions")
	flags.Int("jobs", runtime.NumCPU(), "Number of concurrent fingerprint workers")
	flags.String("input-format", "", "Force all sources to be parsed as mbox or maildir instead of auto-detecting")
	flags.String("imap-pass", "", "Password for imap:// sources (falls back to IMAP_PASS env var)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for run log files; logs go to stdout only when unset")
	flags.String("report-dir", "", "Directory for JSONL run reports (fingerprints, resolutions, summary); disabled when unset")
	return nil
}

// LoadConfig converts the parsed cobra flags into a validated, immutable
// Config. It fails fast: no message is read unless every parameter checks
// out.
func LoadConfig(cmd *cobra.Command, sources []string) (Config, error) {
	flags := cmd.Flags()

	var (
		cfg Config
		err error
	)

	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return Config{}, err
	}
	if cfg.HashOnly, err = flags.GetBool("hash-only"); err != nil {
		return Config{}, err
	}
	if cfg.HashHeaders, err = flags.GetStringArray("hash-header"); err != nil {
		return Config{}, err
	}
	if cfg.HashBody, err = flags.GetBool("hash-body"); err != nil {
		return Config{}, err
	}
	if cfg.MinHeaders, err = flags.GetInt("min-headers"); err != nil {
		return Config{}, err
	}
	if cfg.SizeThreshold, err = flags.GetInt64("size-threshold"); err != nil {
		return Config{}, err
	}
	if cfg.ContentThreshold, err = flags.GetInt64("content-threshold"); err != nil {
		return Config{}, err
	}
	if cfg.ShowDiff, err = flags.GetBool("show-diff"); err != nil {
		return Config{}, err
	}
	strategyID, err := flags.GetString("strategy")
	if err != nil {
		return Config{}, err
	}
	if cfg.TimeSource, err = flags.GetString("time-source"); err != nil {
		return Config{}, err
	}
	regexpStr, err := flags.GetString("regexp")
	if err != nil {
		return Config{}, err
	}
	actionID, err := flags.GetString("action")
	if err != nil {
		return Config{}, err
	}
	if cfg.Export, err = flags.GetString("export"); err != nil {
		return Config{}, err
	}
	if cfg.ExportAppend, err = flags.GetBool("export-append"); err != nil {
		return Config{}, err
	}
	if cfg.DestDir, err = flags.GetString("dest"); err != nil {
		return Config{}, err
	}
	if cfg.Jobs, err = flags.GetInt("jobs"); err != nil {
		return Config{}, err
	}
	if cfg.InputFormat, err = flags.GetString("input-format"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPPass, err = flags.GetString("imap-pass"); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Config{}, err
	}
	if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
		return Config{}, err
	}
	if cfg.ReportDir, err = flags.GetString("report-dir"); err != nil {
		return Config{}, err
	}

	cfg.Sources = sources

	if cfg.Strategy, err = dedupe.ParseStrategy(strings.ToLower(strategyID)); err != nil {
		return Config{}, err
	}
	if cfg.Action, err = dedupe.ParseAction(strings.ToLower(actionID)); err != nil {
		return Config{}, err
	}
	if regexpStr != "" {
		if cfg.Regexp, err = regexp.Compile(regexpStr); err != nil {
			return Config{}, fmt.Errorf("invalid --regexp: %w", err)
		}
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.InputFormat = strings.ToLower(cfg.InputFormat)

	if cfg.HashHeaders, err = normalizeHeaders(cfg.HashHeaders); err != nil {
		return Config{}, err
	}
	if cfg.Export != "" {
		cfg.Export = filepath.Clean(cfg.Export)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalizeHeaders lower-cases header names, removes duplicates while
// preserving first-seen order, and checks every byte against the
// printable-ASCII range (33-126) header-field syntax allows.
func normalizeHeaders(headers []string) ([]string, error) {
	seen := make(map[string]struct{}, len(headers))
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		for _, b := range []byte(h) {
			if b < 33 || b > 126 {
				return nil, fmt.Errorf("invalid header name %q: byte 0x%02x outside printable ASCII 33-126", h, b)
			}
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		normalized = append(normalized, h)
	}
	return normalized, nil
}

func validateConfig(cfg Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one mail source is required")
	}
	if len(cfg.HashHeaders) == 0 {
		return fmt.Errorf("--hash-header list must not be empty")
	}
	if cfg.MinHeaders < 1 {
		return fmt.Errorf("--min-headers must be at least 1")
	}
	if cfg.SizeThreshold < -1 {
		return fmt.Errorf("--size-threshold must be >= -1")
	}
	if cfg.ContentThreshold < -1 {
		return fmt.Errorf("--content-threshold must be >= -1")
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1")
	}

	switch cfg.TimeSource {
	case TimeSourceDateHeader, TimeSourceCtime:
	default:
		return fmt.Errorf("invalid --time-source: %s", cfg.TimeSource)
	}

	switch cfg.InputFormat {
	case "", "mbox", "maildir":
	default:
		return fmt.Errorf("invalid --input-format: %s", cfg.InputFormat)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	if cfg.Strategy.NeedsRegexp() && cfg.Regexp == nil {
		return fmt.Errorf("%s strategy requires the --regexp parameter", cfg.Strategy)
	}
	if !cfg.Strategy.NeedsRegexp() && cfg.Regexp != nil {
		return fmt.Errorf("--regexp is only allowed with the matching-path strategies")
	}

	if cfg.Action != dedupe.ActionNone && cfg.Strategy == dedupe.StrategyNone {
		return fmt.Errorf("%s action requires a --strategy to select survivors", cfg.Action)
	}
	if cfg.Action.NeedsExport() && cfg.Export == "" {
		return fmt.Errorf("export action requires the --export parameter")
	}
	if cfg.Action.NeedsDest() && cfg.DestDir == "" {
		return fmt.Errorf("%s action requires the --dest parameter", cfg.Action)
	}

	// The export box is created from scratch by the run and is not
	// expected to exist beforehand.
	if cfg.Export != "" && !cfg.ExportAppend {
		if _, err := os.Stat(cfg.Export); err == nil {
			return fmt.Errorf("export destination %s already exists", cfg.Export)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat export destination: %w", err)
		}
	}

	return nil
}
