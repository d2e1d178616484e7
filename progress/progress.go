package progress

import (
	"context"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/mailkit/mdedup/stats"
)

// Printer renders live run output: a spinner fed by the event stream, phase
// banners, and the final summary block. Disabled at any log level other
// than "info" so structured logs stay machine-readable.
type Printer struct {
	spinner *pterm.SpinnerPrinter
	enabled bool

	mu      sync.Mutex
	scanned int
	hashed  int
}

func New(logLevel string) *Printer {
	return &Printer{enabled: logLevel == "info"}
}

// Phase prints a section banner, mirroring the run's state transitions.
func (p *Printer) Phase(title string) {
	if !p.enabled {
		return
	}
	p.stopSpinner()
	pterm.DefaultSection.Println(title)
}

// Subscriber consumes the runner's event stream and keeps the spinner text
// current. Errors are printed above the spinner as they happen.
func (p *Printer) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				p.stopSpinner()
				return nil
			}
			p.update(evt)
		}
	}
}

func (p *Printer) update(evt stats.Event) {
	if !p.enabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		p.scanned++
		p.spin()
	case stats.EventTypeHashed:
		p.hashed++
		p.spin()
	case stats.EventTypeReadError, stats.EventTypeActionFailed, stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("%v\n", evt.Err)
		}
	case stats.EventTypePairRejected:
		if evt.Err != nil {
			pterm.Warning.Printf("%v\n", evt.Err)
		}
	}
}

func (p *Printer) spin() {
	if p.spinner == nil {
		spinner, err := pterm.DefaultSpinner.Start("Processing messages")
		if err != nil {
			return
		}
		p.spinner = spinner
	}
	p.spinner.UpdateText(pterm.Sprintf("Scanned %d messages, fingerprinted %d", p.scanned, p.hashed))
}

func (p *Printer) stopSpinner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spinner != nil {
		_ = p.spinner.Stop()
		p.spinner = nil
	}
}

// Summary prints the run-level tally after the event stream has drained.
func (p *Printer) Summary(s stats.Summary, duration time.Duration) {
	if !p.enabled {
		return
	}
	p.stopSpinner()

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Messages scanned: %d\n", s.Scanned)
	pterm.Info.Printf("Messages grouped: %d\n", s.Grouped)
	pterm.Info.Printf("Insufficiently identified: %d\n", s.TooFewHeaders)
	pterm.Info.Printf("Read errors: %d\n", s.ReadErrors)
	pterm.Info.Printf("Groups validated: %d\n", s.GroupsValidated)
	pterm.Info.Printf("Groups split: %d\n", s.GroupsSplit)
	pterm.Info.Printf("Survivors kept: %d\n", s.Survivors)
	pterm.Info.Printf("Actions applied: %d\n", s.ActionsApplied)
	pterm.Info.Printf("Actions failed: %d\n", s.ActionsFailed)
	pterm.Info.Printf("Dry-run actions skipped: %d\n", s.DryRunActions)
	if s.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", s.LastError)
	} else {
		pterm.Success.Println("Run complete")
	}
}
