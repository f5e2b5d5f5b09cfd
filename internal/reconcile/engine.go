// Package reconcile drives the per-cycle reconciliation loop: poll the feed,
// extract facts from each matching incident's narrative, decide send vs edit
// vs alias vs close against the notification channel, and persist the
// tracking table.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
	"github.com/couchcryptid/cad-incident-notifier/internal/observability"
	"github.com/couchcryptid/cad-incident-notifier/internal/track"
)

// SnapshotSource yields the current feed state. A snapshot failure means
// "unknown", never "everything closed"; the caller must not age tracked
// incidents on the strength of a failed fetch.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) ([]domain.RawIncident, error)
	FetchNarrative(ctx context.Context, inc domain.RawIncident) (*domain.Coordinates, []string, error)
}

// Notifier delivers and updates outbound messages. Edit returns
// domain.ErrMessageNotFound when the referenced message no longer exists.
type Notifier interface {
	Send(ctx context.Context, text string) (int64, error)
	Edit(ctx context.Context, messageID int64, text string) error
}

// Store persists the tracking table across restarts.
type Store interface {
	Load(ctx context.Context) (*track.Table, error)
	Save(ctx context.Context, t *track.Table) error
}

// EventSink receives lifecycle events for downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, events []domain.IncidentEvent) error
}

// Options are the reconciliation policy knobs.
type Options struct {
	Center            string
	TypePattern       *regexp.Regexp
	PollInterval      time.Duration
	MissesToClose     int
	MaxDetailChars    int
	MergeRadiusMeters float64
	MergeWindow       time.Duration
	Retention         time.Duration
	Timezone          *time.Location
}

// Engine owns the tracking table and runs one full poll-reconcile-persist
// cycle at a time. It is not safe for concurrent cycles.
type Engine struct {
	source   SnapshotSource
	notifier Notifier
	store    Store
	sink     EventSink // nil when the event sink is disabled
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options

	clock clockwork.Clock
	table *track.Table
	ready atomic.Bool

	statusMu sync.Mutex
	status   Status
}

// Status is a point-in-time summary of the engine's state, refreshed at the
// end of every cycle attempt.
type Status struct {
	Tracked     int       `json:"tracked"`
	Aliases     int       `json:"aliases"`
	LastCycle   time.Time `json:"last_cycle"`
	LastOutcome string    `json:"last_outcome"`
}

// New creates an Engine. The sink may be nil.
func New(source SnapshotSource, notifier Notifier, store Store, sink EventSink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Engine {
	return &Engine{
		source:   source,
		notifier: notifier,
		store:    store,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		clock:    clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source. Pass nil to reset to real time.
func (e *Engine) SetClock(c clockwork.Clock) {
	if c == nil {
		e.clock = clockwork.NewRealClock()
		return
	}
	e.clock = c
}

// CheckReadiness returns nil once at least one cycle has completed, or an
// error describing why the service is not yet ready.
func (e *Engine) CheckReadiness(_ context.Context) error {
	if !e.ready.Load() {
		return errors.New("no polling cycle has completed yet")
	}
	return nil
}

// Status returns a snapshot of the engine's tracking state. Safe to call
// from other goroutines while cycles run.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) recordStatus(at time.Time, outcome string) {
	tracked, aliases := 0, 0
	if e.table != nil {
		tracked = len(e.table.Records)
		aliases = len(e.table.Aliases)
	}
	e.statusMu.Lock()
	e.status = Status{Tracked: tracked, Aliases: aliases, LastCycle: at, LastOutcome: outcome}
	e.statusMu.Unlock()
}

// Run executes polling cycles until the context is cancelled. The interval
// between cycles is the configured poll interval plus a small random jitter
// so the service does not hit the feed on an exact clock edge.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		return err
	}
	e.logger.Info("engine started",
		"center", e.opts.Center,
		"poll_interval", e.opts.PollInterval,
		"misses_to_close", e.opts.MissesToClose,
	)

	for {
		if err := e.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("cycle failed", "error", err)
		}

		jitter := 2*time.Second + rand.N(3*time.Second)
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return nil
		case <-e.clock.After(e.opts.PollInterval + jitter):
		}
	}
}

func (e *Engine) restore(ctx context.Context) error {
	tbl, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tracking table: %w", err)
	}
	if tbl == nil {
		tbl = track.NewTable()
	}
	e.table = tbl
	e.logger.Info("tracking table restored", "records", len(tbl.Records), "aliases", len(tbl.Aliases))
	return nil
}

// Cycle runs one full poll-reconcile-persist pass. A snapshot fetch failure
// aborts the cycle before the aging pass so tracked incidents are never
// closed on the strength of a failed fetch; an empty snapshot is a
// legitimate all-absent signal and ages normally.
func (e *Engine) Cycle(ctx context.Context) error {
	if e.table == nil {
		if err := e.restore(ctx); err != nil {
			return err
		}
	}

	start := e.clock.Now()
	now := start.In(e.opts.Timezone)
	log := e.logger.With("cycle_id", uuid.NewString())

	snapshot, err := e.source.FetchSnapshot(ctx)
	if err != nil {
		e.metrics.CyclesTotal.WithLabelValues("snapshot_error").Inc()
		e.recordStatus(now, "snapshot_error")
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	seen := make(map[string]bool)
	var events []domain.IncidentEvent
	matched := 0
	for _, inc := range snapshot {
		if !e.opts.TypePattern.MatchString(inc.Type) {
			continue
		}
		matched++
		events = append(events, e.observe(ctx, log, now, inc, seen)...)
	}
	e.metrics.SnapshotSize.Observe(float64(matched))

	events = append(events, e.age(ctx, log, now, seen)...)

	if pruned := e.table.Prune(track.Day(now), now.Add(-e.opts.Retention)); pruned > 0 {
		e.metrics.RecordsPruned.Add(float64(pruned))
		log.Info("pruned stale records", "count", pruned)
	}
	e.metrics.IncidentsTracked.Set(float64(len(e.table.Records)))

	if err := e.store.Save(ctx, e.table); err != nil {
		e.metrics.CyclesTotal.WithLabelValues("save_error").Inc()
		e.recordStatus(now, "save_error")
		return fmt.Errorf("save tracking table: %w", err)
	}

	e.publish(ctx, log, events)

	e.metrics.CyclesTotal.WithLabelValues("success").Inc()
	e.metrics.CycleDuration.Observe(e.clock.Now().Sub(start).Seconds())
	e.recordStatus(now, "success")
	e.ready.Store(true)
	log.Debug("cycle complete", "observed", matched, "tracked", len(e.table.Records))
	return nil
}

// observe reconciles one matching feed row against the tracking table and
// returns any lifecycle events it produced. Owner keys of records refreshed
// by this observation are recorded in seen.
func (e *Engine) observe(ctx context.Context, log *slog.Logger, now time.Time, inc domain.RawIncident, seen map[string]bool) []domain.IncidentEvent {
	id := track.IdentityKey(e.opts.Center, now, inc.Number)
	rec, owner, ok := e.table.Resolve(id)

	// A closed identity is never revived: the stale record is dropped and
	// the observation starts a fresh lifecycle.
	if ok && rec.Closed {
		delete(e.table.Records, owner)
		delete(e.table.Aliases, id)
		rec, owner, ok = nil, "", false
	}

	coords, lines, narErr := e.source.FetchNarrative(ctx, inc)
	if narErr != nil {
		e.metrics.NarrativeErrors.Inc()
		log.Warn("narrative fetch failed", "identity", id, "error", narErr)
		coords, lines = nil, nil
	}
	facts := domain.ExtractFacts(lines)
	sig := domain.Signature(inc.Type, lines, facts)
	text := domain.RenderMessage(inc, coords, lines, facts, e.opts.MaxDetailChars)

	if ok {
		seen[owner] = true
		rec.Misses = 0
		rec.LastSeen = now
		if coords != nil {
			rec.Coordinates = coords
		}
		if narErr != nil {
			// Liveness refreshed; content comparison waits for a cycle
			// with a real narrative.
			return nil
		}
		if sig == rec.LastSignature {
			return nil
		}
		if !e.deliver(ctx, log, owner, rec, text) {
			return nil
		}
		rec.LastSignature = sig
		rec.LastText = text
		return []domain.IncidentEvent{e.event(domain.ActionUpdated, owner, inc, coords, &facts, sig, now)}
	}

	if target, hit := track.FindMergeTarget(coords, e.table, now, e.opts.MergeRadiusMeters, e.opts.MergeWindow); hit {
		tgt := e.table.Records[target]
		e.table.Alias(id, target)
		seen[target] = true
		tgt.Misses = 0
		tgt.LastSeen = now
		tgt.Coordinates = coords
		e.metrics.IncidentsMerged.Inc()
		log.Info("merged duplicate report", "identity", id, "target", target)
		if e.deliver(ctx, log, target, tgt, text) {
			tgt.LastSignature = sig
			tgt.LastText = text
		}
		return []domain.IncidentEvent{e.event(domain.ActionMerged, target, inc, coords, &facts, sig, now)}
	}

	msgID, err := e.notifier.Send(ctx, text)
	if err != nil {
		e.metrics.NotificationErrors.WithLabelValues("send").Inc()
		log.Error("send failed", "identity", id, "error", err)
		// No record is created; the identity is retried as unseen next cycle.
		return nil
	}
	e.metrics.NotificationsSent.Inc()
	e.table.Records[id] = &track.Record{
		NotificationID: msgID,
		LastSignature:  sig,
		LastText:       text,
		FirstSeen:      now,
		LastSeen:       now,
		Coordinates:    coords,
	}
	seen[id] = true
	log.Info("tracking new incident", "identity", id, "type", inc.Type, "area", inc.Area)
	return []domain.IncidentEvent{e.event(domain.ActionCreated, id, inc, coords, &facts, sig, now)}
}

// deliver edits the record's message in place, falling back to a fresh send
// when the message no longer exists. Returns false when nothing was
// delivered, leaving the record's content fields untouched for retry.
func (e *Engine) deliver(ctx context.Context, log *slog.Logger, id string, rec *track.Record, text string) bool {
	err := e.notifier.Edit(ctx, rec.NotificationID, text)
	if err == nil {
		e.metrics.NotificationsEdited.Inc()
		return true
	}
	if errors.Is(err, domain.ErrMessageNotFound) {
		msgID, sendErr := e.notifier.Send(ctx, text)
		if sendErr != nil {
			e.metrics.NotificationErrors.WithLabelValues("send").Inc()
			log.Error("resend after missing message failed", "identity", id, "error", sendErr)
			return false
		}
		log.Info("message rebound after missing edit target", "identity", id, "message_id", msgID)
		rec.NotificationID = msgID
		e.metrics.NotificationsSent.Inc()
		return true
	}
	e.metrics.NotificationErrors.WithLabelValues("edit").Inc()
	log.Error("edit failed", "identity", id, "error", err)
	return false
}

// age increments misses for every live record not observed this cycle and
// closes records that reached the threshold. The closing edit is attempted
// exactly once; the record transitions to closed whether or not it lands.
func (e *Engine) age(ctx context.Context, log *slog.Logger, now time.Time, seen map[string]bool) []domain.IncidentEvent {
	keys := make([]string, 0, len(e.table.Records))
	for key := range e.table.Records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var events []domain.IncidentEvent
	for _, key := range keys {
		rec := e.table.Records[key]
		if rec.Closed || seen[key] {
			continue
		}
		rec.Misses++
		if rec.Misses < e.opts.MissesToClose {
			continue
		}

		closedText := domain.AppendClosedAnnotation(rec.LastText)
		if err := e.notifier.Edit(ctx, rec.NotificationID, closedText); err != nil {
			e.metrics.NotificationErrors.WithLabelValues("edit").Inc()
			log.Warn("closing edit failed", "identity", key, "error", err)
		} else {
			e.metrics.NotificationsEdited.Inc()
			rec.LastText = closedText
		}
		rec.Closed = true
		e.metrics.IncidentsClosed.Inc()
		log.Info("incident closed", "identity", key, "misses", rec.Misses)
		events = append(events, domain.IncidentEvent{Identity: key, Action: domain.ActionClosed, At: now})
	}
	return events
}

func (e *Engine) publish(ctx context.Context, log *slog.Logger, events []domain.IncidentEvent) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, events); err != nil {
		log.Warn("event publish failed", "error", err, "count", len(events))
		return
	}
	e.metrics.EventsPublished.Add(float64(len(events)))
}

func (e *Engine) event(action, identity string, inc domain.RawIncident, coords *domain.Coordinates, facts *domain.FactRecord, sig string, now time.Time) domain.IncidentEvent {
	return domain.IncidentEvent{
		Identity:    identity,
		Action:      action,
		Type:        inc.Type,
		Area:        inc.Area,
		Location:    inc.Location,
		Coordinates: coords,
		Facts:       facts,
		Signature:   sig,
		At:          now,
	}
}
