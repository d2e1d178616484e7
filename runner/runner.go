// Package runner drives one deduplication run through its phases:
// fingerprinting, grouping, validating, resolving, reporting. The core
// computation is pure; everything with side effects is delegated to the
// source and store collaborators.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mailkit/mdedup/config"
	"github.com/mailkit/mdedup/dedupe"
	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/model"
	"github.com/mailkit/mdedup/report"
	"github.com/mailkit/mdedup/stats"
	"github.com/mailkit/mdedup/store"
)

// States of one run.
const (
	StateConfigured     = "configured"
	StateFingerprinting = "fingerprinting"
	StateGrouping       = "grouping"
	StateValidating     = "validating"
	StateResolving      = "resolving"
	StateReported       = "reported"
	StateAborted        = "aborted"
)

// Source streams one mail store's messages. Implemented by the source and
// imap packages.
type Source interface {
	Path() string
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

// Fingerprinted pairs a message with its computed fingerprint.
type Fingerprinted struct {
	Message     model.Message
	Fingerprint hash.Fingerprint
}

// GroupResolution is the reported outcome of one confirmed duplicate group.
type GroupResolution struct {
	Fingerprint hash.Fingerprint
	Resolution  dedupe.Resolution
}

// Result is what a finished run hands back to the CLI collaborator.
type Result struct {
	RunID        string
	Summary      stats.Summary
	Resolutions  []GroupResolution
	Fingerprints []Fingerprinted
}

type Runner struct {
	cfg     config.Config
	logger  *slog.Logger
	runID   string
	report  *report.Writer
	applier *store.Applier
	sources []Source

	subsMu          sync.Mutex
	subs            []chan stats.Event
	statsWG         sync.WaitGroup
	closeEventsOnce sync.Once

	mu    sync.Mutex
	state string
	err   error

	collector *stats.Collector
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		runID:     uuid.NewString(),
		state:     StateConfigured,
		collector: stats.NewCollector(),
	}

	if cfg.ReportDir != "" {
		w, err := report.NewWriter(cfg.ReportDir, r.runID)
		if err != nil {
			return nil, fmt.Errorf("report writer: %w", err)
		}
		r.report = w
	}

	r.applier = store.New(store.Options{Export: cfg.Export, DestDir: cfg.DestDir}, logger)

	r.SubscribeStats("collector", func(ctx context.Context, events <-chan stats.Event) error {
		r.collector.Run(ctx, events)
		return nil
	})

	return r, nil
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) AddSource(s Source) {
	r.sources = append(r.sources, s)
}

// EmitEvent fans one event out to every subscriber. Each subscriber owns a
// buffered feed; a shared channel would split events between consumers and
// skew the tally.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()
	for _, ch := range subs {
		ch <- evt
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(context.Background(), ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// Run executes the whole pipeline. Cancellation is honoured at group
// boundaries: resolutions already computed stay valid and are reported.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	fingerprinted, runErr := r.fingerprint(ctx)

	var resolutions []GroupResolution
	if runErr == nil {
		groups := r.group(fingerprinted)
		if !r.cfg.HashOnly {
			confirmed, err := r.validate(ctx, groups)
			if err != nil {
				runErr = err
			} else {
				resolutions, runErr = r.resolve(ctx, confirmed)
			}
		}
	}

	if closeErr := r.applier.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	r.closeEvents()
	r.statsWG.Wait()

	r.mu.Lock()
	if r.err != nil && runErr == nil {
		runErr = r.err
	}
	r.mu.Unlock()

	summary := r.collector.Snapshot()
	if r.report != nil {
		if err := r.report.Summary(r.runID, summary); err != nil && runErr == nil {
			runErr = err
		}
		if err := r.report.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}

	result := &Result{
		RunID:       r.runID,
		Summary:     summary,
		Resolutions: resolutions,
	}
	if r.cfg.HashOnly {
		result.Fingerprints = fingerprinted
	}

	duration := time.Since(started)
	if runErr != nil {
		r.setState(StateAborted)
		r.logger.Error("run aborted", "runID", r.runID, "duration", duration, "err", runErr)
		return result, runErr
	}

	r.setState(StateReported)
	r.logger.Info("run completed", "runID", r.runID, "duration", duration)
	return result, nil
}

// fingerprint streams every source through a bounded worker pool and
// returns the hashed messages in traversal order. It is the only phase that
// reads message payloads from the stores.
func (r *Runner) fingerprint(ctx context.Context) ([]Fingerprinted, error) {
	r.setState(StateFingerprinting)

	envelopes := make(chan model.Envelope, 32)
	producers, prodCtx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		producers.Go(func() error {
			if err := src.Stream(prodCtx, envelopes); err != nil {
				return fmt.Errorf("source %s: %w", src.Path(), err)
			}
			return nil
		})
	}
	go func() {
		// Producer failures surface through producers.Wait below; here
		// they only stop the stream.
		_ = producers.Wait()
		close(envelopes)
	}()

	// A single bridge stamps the observation order before messages fan
	// out to the workers, so grouping and tie-breaks stay reproducible
	// no matter how the pool schedules.
	toHash := make(chan model.Message, 32)
	go func() {
		defer close(toHash)
		seq := 0
		for env := range envelopes {
			if env.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeReadError, Err: env.Err})
				continue
			}
			msg := env.Message
			msg.Seq = seq
			seq++
			r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, MessageID: msg.ID()})
			toHash <- msg
		}
	}()

	opts := hash.Options{
		Headers:    r.cfg.HashHeaders,
		MinHeaders: r.cfg.MinHeaders,
		HashBody:   r.cfg.HashBody,
	}

	var (
		mu        sync.Mutex
		collected []Fingerprinted
	)
	workers, workCtx := errgroup.WithContext(ctx)
	workers.SetLimit(r.cfg.Jobs)
	for msg := range toHash {
		// Stop feeding the pool once a worker has failed; Wait still
		// surfaces the first error.
		if workCtx.Err() != nil {
			break
		}
		workers.Go(func() error {
			fp, err := hash.Compute(msg, opts)
			if err != nil {
				var tooFew *hash.TooFewHeadersError
				if errors.As(err, &tooFew) {
					r.EmitEvent(stats.Event{Stage: stats.StageHash, Type: stats.EventTypeTooFewHeaders, MessageID: msg.ID(), Err: err})
					if r.report != nil {
						return r.report.TooFewHeaders(tooFew)
					}
					return nil
				}
				return err
			}

			r.EmitEvent(stats.Event{Stage: stats.StageHash, Type: stats.EventTypeHashed, MessageID: msg.ID(), Detail: fp.String()})
			if r.report != nil {
				if err := r.report.Fingerprint(msg, fp); err != nil {
					return err
				}
			}

			mu.Lock()
			collected = append(collected, Fingerprinted{Message: msg, Fingerprint: fp})
			mu.Unlock()
			return nil
		})
	}

	// No-op unless the loop stopped early; keeps the bridge goroutine from
	// blocking on a send nobody receives.
	for range toHash {
	}

	workErr := workers.Wait()
	prodErr := producers.Wait()

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Message.Seq < collected[j].Message.Seq
	})

	if prodErr != nil {
		return collected, prodErr
	}
	if workErr != nil {
		return collected, workErr
	}
	return collected, ctx.Err()
}

// group partitions the fingerprinted messages; the barrier before this
// point guarantees all fingerprints are in.
func (r *Runner) group(fingerprinted []Fingerprinted) []*dedupe.Group {
	r.setState(StateGrouping)

	grouper := dedupe.NewGrouper()
	for _, f := range fingerprinted {
		grouper.Add(f.Fingerprint, f.Message)
	}

	groups := grouper.Groups()
	for _, g := range groups {
		if len(g.Members) > 1 {
			r.EmitEvent(stats.Event{
				Stage:  stats.StageGroup,
				Type:   stats.EventTypeGroupFormed,
				Detail: fmt.Sprintf("%s: %d members", g.Fingerprint, len(g.Members)),
			})
		}
	}
	r.logger.Info("grouped messages", "messages", len(fingerprinted), "groups", len(groups), "duplicates", grouper.Duplicates())
	return groups
}

// validate confirms each candidate group, splitting those whose members
// diverge beyond the thresholds. Groups are independent and validated
// concurrently; results keep the original group order.
func (r *Runner) validate(ctx context.Context, groups []*dedupe.Group) ([]*dedupe.Group, error) {
	r.setState(StateValidating)

	validator := dedupe.Validator{
		SizeThreshold:    r.cfg.SizeThreshold,
		ContentThreshold: r.cfg.ContentThreshold,
	}

	split := make([][]*dedupe.Group, len(groups))
	workers, _ := errgroup.WithContext(ctx)
	workers.SetLimit(r.cfg.Jobs)
	for i, g := range groups {
		workers.Go(func() error {
			subs, violations := validator.Split(g)
			for _, v := range violations {
				r.EmitEvent(stats.Event{Stage: stats.StageValidate, Type: stats.EventTypePairRejected, Err: v})
				if r.cfg.ShowDiff {
					r.logDiff(g, v)
				}
				if r.report != nil {
					if err := r.report.Violation(v); err != nil {
						return err
					}
				}
			}
			if len(subs) > 1 {
				r.EmitEvent(stats.Event{
					Stage:  stats.StageValidate,
					Type:   stats.EventTypeGroupSplit,
					Detail: fmt.Sprintf("%s: split into %d sub-groups", g.Fingerprint, len(subs)),
				})
			} else if len(g.Members) > 1 {
				r.EmitEvent(stats.Event{Stage: stats.StageValidate, Type: stats.EventTypeGroupValid})
			}
			split[i] = subs
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	var confirmed []*dedupe.Group
	for _, subs := range split {
		confirmed = append(confirmed, subs...)
	}
	return confirmed, ctx.Err()
}

// resolve applies the selection strategy group by group and requests the
// configured action for every non-survivor. Cancellation between groups
// keeps already-computed resolutions valid.
func (r *Runner) resolve(ctx context.Context, groups []*dedupe.Group) ([]GroupResolution, error) {
	r.setState(StateResolving)

	if r.cfg.Strategy == dedupe.StrategyNone {
		return nil, nil
	}

	var resolutions []GroupResolution
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return resolutions, err
		}
		if len(g.Members) < 2 {
			continue
		}

		res := dedupe.Resolve(g, r.cfg.Strategy, r.cfg.Regexp, r.cfg.Action)
		resolutions = append(resolutions, GroupResolution{Fingerprint: g.Fingerprint, Resolution: res})

		r.EmitEvent(stats.Event{Stage: stats.StageResolve, Type: stats.EventTypeSurvivor, MessageID: res.Survivor.ID()})
		if r.report != nil {
			if err := r.report.Resolution(g.Fingerprint, res, r.cfg.DryRun); err != nil {
				return resolutions, err
			}
		}

		for _, outcome := range res.Discards {
			r.applyOutcome(res.Survivor, outcome)
		}
	}
	return resolutions, nil
}

func (r *Runner) applyOutcome(survivor model.Message, outcome dedupe.Outcome) {
	if outcome.Action == dedupe.ActionNone {
		return
	}

	if r.cfg.DryRun {
		r.EmitEvent(stats.Event{
			Stage:     stats.StageAction,
			Type:      stats.EventTypeDryRunAction,
			MessageID: outcome.Message.ID(),
			Detail:    string(outcome.Action),
		})
		r.logger.Info("dry run: skip action", "action", outcome.Action, "message", outcome.Message.ID())
		return
	}

	err := r.applier.Apply(store.Request{
		Message:  outcome.Message,
		Survivor: survivor,
		Action:   outcome.Action,
	})
	if err != nil {
		r.EmitEvent(stats.Event{
			Stage:     stats.StageAction,
			Type:      stats.EventTypeActionFailed,
			MessageID: outcome.Message.ID(),
			Err:       err,
		})
		r.logger.Warn("action failed", "action", outcome.Action, "message", outcome.Message.ID(), "err", err)
		return
	}

	r.EmitEvent(stats.Event{
		Stage:     stats.StageAction,
		Type:      stats.EventTypeActionApplied,
		MessageID: outcome.Message.ID(),
		Detail:    string(outcome.Action),
	})
}

func (r *Runner) logDiff(g *dedupe.Group, v *dedupe.Violation) {
	var a, b *model.Message
	for i := range g.Members {
		switch g.Members[i].ID() {
		case v.MessageA:
			a = &g.Members[i]
		case v.MessageB:
			b = &g.Members[i]
		}
	}
	if a == nil || b == nil {
		return
	}
	diff := dedupe.DiffText(dedupe.SplitLines(string(a.Body)), dedupe.SplitLines(string(b.Body)))
	r.logger.Info("rejected pair diff", "messageA", v.MessageA, "messageB", v.MessageB, "diff", diff)
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
		r.subs = nil
	})
}

func (r *Runner) setState(state string) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.logger.Debug("run state", "runID", r.runID, "state", state)
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}
