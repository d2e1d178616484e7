package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageSource   Stage = "source"
	StageHash     Stage = "hash"
	StageGroup    Stage = "group"
	StageValidate Stage = "validate"
	StageResolve  Stage = "resolve"
	StageAction   Stage = "action"
)

type EventType string

const (
	EventTypeScanned       EventType = "scanned"
	EventTypeReadError     EventType = "read_error"
	EventTypeHashed        EventType = "hashed"
	EventTypeTooFewHeaders EventType = "too_few_headers"
	EventTypeGroupFormed   EventType = "group_formed"
	EventTypeGroupSplit    EventType = "group_split"
	EventTypePairRejected  EventType = "pair_rejected"
	EventTypeGroupValid    EventType = "group_validated"
	EventTypeSurvivor      EventType = "survivor"
	EventTypeActionApplied EventType = "action_applied"
	EventTypeActionFailed  EventType = "action_failed"
	EventTypeDryRunAction  EventType = "dry_run_action"
	EventTypeError         EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

// Summary is the run-level tally exposed to the CLI collaborator.
type Summary struct {
	Scanned         int
	ReadErrors      int
	Grouped         int
	TooFewHeaders   int
	GroupsValidated int
	GroupsSplit     int
	PairsRejected   int
	Survivors       int
	ActionsApplied  int
	ActionsFailed   int
	DryRunActions   int
	Errors          int
	LastError       error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"readErrors", s.ReadErrors,
		"grouped", s.Grouped,
		"tooFewHeaders", s.TooFewHeaders,
		"groupsValidated", s.GroupsValidated,
		"groupsSplit", s.GroupsSplit,
		"pairsRejected", s.PairsRejected,
		"survivors", s.Survivors,
		"actionsApplied", s.ActionsApplied,
		"actionsFailed", s.ActionsFailed,
		"dryRunActions", s.DryRunActions,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeReadError:
		c.summary.ReadErrors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeHashed:
		c.summary.Grouped++
	case EventTypeTooFewHeaders:
		c.summary.TooFewHeaders++
	case EventTypeGroupValid:
		c.summary.GroupsValidated++
	case EventTypeGroupSplit:
		c.summary.GroupsSplit++
	case EventTypePairRejected:
		c.summary.PairsRejected++
	case EventTypeSurvivor:
		c.summary.Survivors++
	case EventTypeActionApplied:
		c.summary.ActionsApplied++
	case EventTypeActionFailed:
		c.summary.ActionsFailed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeDryRunAction:
		c.summary.DryRunActions++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
