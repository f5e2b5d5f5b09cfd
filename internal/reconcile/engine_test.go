package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
	"github.com/couchcryptid/cad-incident-notifier/internal/observability"
	"github.com/couchcryptid/cad-incident-notifier/internal/track"
)

type narrative struct {
	coords *domain.Coordinates
	lines  []string
}

type fakeSource struct {
	snapshot     []domain.RawIncident
	snapshotErr  error
	narratives   map[string]narrative
	narrativeErr error
}

func (f *fakeSource) FetchSnapshot(_ context.Context) ([]domain.RawIncident, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeSource) FetchNarrative(_ context.Context, inc domain.RawIncident) (*domain.Coordinates, []string, error) {
	if f.narrativeErr != nil {
		return nil, nil, f.narrativeErr
	}
	n := f.narratives[inc.Number]
	return n.coords, n.lines, nil
}

type message struct {
	id   int64
	text string
}

type fakeNotifier struct {
	nextID  int64
	sendErr error
	editErr error
	sends   []message
	edits   []message
}

func (f *fakeNotifier) Send(_ context.Context, text string) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sends = append(f.sends, message{f.nextID, text})
	return f.nextID, nil
}

func (f *fakeNotifier) Edit(_ context.Context, id int64, text string) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, message{id, text})
	return nil
}

type fakeStore struct {
	table   *track.Table
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeStore) Load(_ context.Context) (*track.Table, error) {
	return f.table, f.loadErr
}

func (f *fakeStore) Save(_ context.Context, t *track.Table) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.table = t
	return nil
}

type fakeSink struct {
	events []domain.IncidentEvent
	err    error
}

func (f *fakeSink) Publish(_ context.Context, events []domain.IncidentEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

type harness struct {
	engine   *Engine
	source   *fakeSource
	notifier *fakeNotifier
	store    *fakeStore
	sink     *fakeSink
	clock    *clockwork.FakeClock
}

var startTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{narratives: map[string]narrative{}},
		notifier: &fakeNotifier{},
		store:    &fakeStore{},
		sink:     &fakeSink{},
		clock:    clockwork.NewFakeClockAt(startTime),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(h.source, h.notifier, h.store, h.sink, logger, observability.NewMetricsForTesting(), Options{
		Center:            "Inland",
		TypePattern:       regexp.MustCompile(`Collision|Hit`),
		PollInterval:      30 * time.Second,
		MissesToClose:     2,
		MaxDetailChars:    2500,
		MergeRadiusMeters: 100,
		MergeWindow:       30 * time.Minute,
		Retention:         24 * time.Hour,
		Timezone:          time.UTC,
	})
	h.engine.SetClock(h.clock)
	return h
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Cycle(context.Background()))
}

func collision(number string) domain.RawIncident {
	return domain.RawIncident{
		Number:   number,
		Time:     "9:05 AM",
		Type:     "Trfc Collision-No Inj",
		Location: "I5 N / MAIN ST",
		Area:     "San Diego",
	}
}

func TestCycle_NewIncidentSendsOnce(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS BLKG #2"}}

	h.cycle(t)

	require.Len(t, h.notifier.sends, 1)
	assert.Contains(t, h.notifier.sends[0].text, "Trfc Collision-No Inj")
	assert.Empty(t, h.notifier.edits)

	rec, owner, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.Equal(t, "Inland:20260314:0042", owner)
	assert.Equal(t, int64(1), rec.NotificationID)
	assert.Equal(t, startTime, rec.FirstSeen)

	require.Len(t, h.sink.events, 1)
	assert.Equal(t, domain.ActionCreated, h.sink.events[0].Action)
}

func TestCycle_NonMatchingTypeIgnored(t *testing.T) {
	h := newHarness(t)
	hazard := collision("0042")
	hazard.Type = "Traffic Hazard"
	h.source.snapshot = []domain.RawIncident{hazard}

	h.cycle(t)

	assert.Empty(t, h.notifier.sends)
	assert.Empty(t, h.store.table.Records)
}

func TestCycle_UnchangedNarrativeNoEdit(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}

	h.cycle(t)
	h.clock.Advance(30 * time.Second)
	h.cycle(t)

	assert.Len(t, h.notifier.sends, 1)
	assert.Empty(t, h.notifier.edits, "identical narrative must not trigger an edit")
}

func TestCycle_ChangedNarrativeEdits(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS", "9:07 AM 2 1185 ENRT"}}
	h.clock.Advance(30 * time.Second)
	h.cycle(t)

	assert.Len(t, h.notifier.sends, 1)
	require.Len(t, h.notifier.edits, 1)
	assert.Equal(t, int64(1), h.notifier.edits[0].id)
	assert.Contains(t, h.notifier.edits[0].text, "tow en route")

	require.Len(t, h.sink.events, 2)
	assert.Equal(t, domain.ActionUpdated, h.sink.events[1].Action)
}

func TestCycle_EditNotFoundRebindsViaSend(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 3 VEHS"}}
	h.notifier.editErr = domain.ErrMessageNotFound
	h.cycle(t)

	require.Len(t, h.notifier.sends, 2, "missing message falls back to a fresh send")
	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.NotificationID, "record rebinds to the new message")
}

func TestCycle_TransientEditFailureRetriesNextCycle(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 3 VEHS"}}
	h.notifier.editErr = errors.New("telegram: 429 too many requests")
	h.cycle(t)
	assert.Empty(t, h.notifier.edits)

	h.notifier.editErr = nil
	h.cycle(t)
	assert.Len(t, h.notifier.edits, 1, "unchanged signature is retried once delivery recovers")
}

func TestCycle_SendFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.notifier.sendErr = errors.New("telegram unavailable")

	h.cycle(t)
	assert.Empty(t, h.store.table.Records)

	h.notifier.sendErr = nil
	h.cycle(t)
	assert.Len(t, h.notifier.sends, 1, "identity is retried as unseen next cycle")
	assert.Len(t, h.store.table.Records, 1)
}

func TestCycle_ProximityMerge(t *testing.T) {
	h := newHarness(t)
	base := &domain.Coordinates{Lat: 34.0522, Lon: -118.2437}
	near := &domain.Coordinates{Lat: 34.0522 + 0.00045, Lon: -118.2437} // ~50 m

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{coords: base, lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.clock.Advance(10 * time.Minute)
	h.source.snapshot = []domain.RawIncident{collision("0042"), collision("0050")}
	h.source.narratives["0050"] = narrative{coords: near, lines: []string{"9:15 AM 1 DUP 1141"}}
	h.cycle(t)

	assert.Len(t, h.notifier.sends, 1, "duplicate report must not send a second message")
	require.NotEmpty(t, h.notifier.edits)
	assert.Equal(t, int64(1), h.notifier.edits[0].id)

	rec, owner, ok := h.store.table.Resolve("Inland:20260314:0050")
	require.True(t, ok)
	assert.Equal(t, "Inland:20260314:0042", owner, "duplicate identity aliases the original")
	assert.Equal(t, int64(1), rec.NotificationID)

	merged := h.sink.events[len(h.sink.events)-1]
	assert.Equal(t, domain.ActionMerged, merged.Action)
	assert.Equal(t, "Inland:20260314:0042", merged.Identity)
}

func TestCycle_DistantIncidentsNeverMerge(t *testing.T) {
	h := newHarness(t)
	base := &domain.Coordinates{Lat: 34.0522, Lon: -118.2437}
	far := &domain.Coordinates{Lat: 34.0522 + 0.0045, Lon: -118.2437} // ~500 m

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{coords: base, lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{collision("0042"), collision("0050")}
	h.source.narratives["0050"] = narrative{coords: far, lines: []string{"9:06 AM 1 SOLO"}}
	h.cycle(t)

	assert.Len(t, h.notifier.sends, 2)
	assert.Len(t, h.store.table.Records, 2)
	assert.Empty(t, h.store.table.Aliases)
}

func TestCycle_AliasObservationKeepsTargetAlive(t *testing.T) {
	h := newHarness(t)
	base := &domain.Coordinates{Lat: 34.0522, Lon: -118.2437}
	near := &domain.Coordinates{Lat: 34.0522 + 0.00045, Lon: -118.2437}

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{coords: base, lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{collision("0042"), collision("0050")}
	h.source.narratives["0050"] = narrative{coords: near, lines: []string{"9:15 AM 1 DUP"}}
	h.cycle(t)

	// Only the alias remains on the feed; the target must not age.
	h.source.snapshot = []domain.RawIncident{collision("0050")}
	h.cycle(t)
	h.cycle(t)
	h.cycle(t)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.False(t, rec.Closed)
	assert.Zero(t, rec.Misses)
}

func TestCycle_MissesBelowThresholdNeverClose(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	// Absent for MissesToClose-1 cycles, then observed again.
	h.source.snapshot = nil
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.False(t, rec.Closed)
	assert.Zero(t, rec.Misses)
	for _, e := range h.notifier.edits {
		assert.NotContains(t, e.text, "closed by CHP")
	}
}

func TestCycle_CloseAfterThresholdExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.snapshot = nil
	h.cycle(t)
	h.cycle(t)

	require.Len(t, h.notifier.edits, 1)
	assert.Contains(t, h.notifier.edits[0].text, "closed by CHP")
	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.True(t, rec.Closed)

	closed := h.sink.events[len(h.sink.events)-1]
	assert.Equal(t, domain.ActionClosed, closed.Action)

	// Further absence must not repeat the closing edit.
	h.cycle(t)
	h.cycle(t)
	assert.Len(t, h.notifier.edits, 1)
}

func TestCycle_ClosingEditFailureStillCloses(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	h.source.snapshot = nil
	h.cycle(t)
	h.notifier.editErr = errors.New("telegram unavailable")
	h.cycle(t)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.True(t, rec.Closed, "close is not retried on delivery failure")

	h.notifier.editErr = nil
	h.cycle(t)
	assert.Empty(t, h.notifier.edits)
}

func TestCycle_ClosedIdentityReobservedStartsFresh(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.snapshot = nil
	h.cycle(t)
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	assert.Len(t, h.notifier.sends, 2, "re-observation of a closed identity sends a new message")
	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.False(t, rec.Closed)
	assert.Equal(t, int64(2), rec.NotificationID)
}

func TestCycle_SnapshotFailureSkipsAgingAndSave(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)
	savesBefore := h.store.saves

	h.source.snapshotErr = errors.New("cad: 503")
	err := h.engine.Cycle(context.Background())
	require.Error(t, err)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.Zero(t, rec.Misses, "a failed snapshot must not count as a miss")
	assert.Equal(t, savesBefore, h.store.saves)
}

func TestCycle_EmptySnapshotAgesNormally(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{}
	h.cycle(t)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Misses, "an empty snapshot is a legitimate all-absent signal")
}

func TestCycle_NarrativeFailureRefreshesLivenessOnly(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	h.source.snapshot = nil
	h.cycle(t)

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narrativeErr = errors.New("cad: detail postback failed")
	h.cycle(t)

	rec, _, ok := h.store.table.Resolve("Inland:20260314:0042")
	require.True(t, ok)
	assert.Zero(t, rec.Misses, "observation without narrative still resets misses")
	assert.Empty(t, h.notifier.edits, "no content comparison without a narrative")
}

func TestCycle_RetentionPrunesOldRecords(t *testing.T) {
	h := newHarness(t)
	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	h.clock.Advance(25 * time.Hour)
	h.source.snapshot = nil
	h.cycle(t)

	assert.Empty(t, h.store.table.Records)
}

func TestCycle_SinkFailureDoesNotFailCycle(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("kafka unavailable")
	h.source.snapshot = []domain.RawIncident{collision("0042")}

	h.cycle(t)
	assert.Len(t, h.notifier.sends, 1)
}

func TestCycle_NilSink(t *testing.T) {
	h := newHarness(t)
	h.engine.sink = nil
	h.source.snapshot = []domain.RawIncident{collision("0042")}

	h.cycle(t)
	assert.Len(t, h.notifier.sends, 1)
}

func TestCheckReadiness(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.engine.CheckReadiness(context.Background()))

	h.cycle(t)
	assert.NoError(t, h.engine.CheckReadiness(context.Background()))
}

func TestStatus_ReflectsLastCycle(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.engine.Status().LastOutcome)

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.cycle(t)

	st := h.engine.Status()
	assert.Equal(t, "success", st.LastOutcome)
	assert.Equal(t, 1, st.Tracked)
	assert.Equal(t, startTime, st.LastCycle)

	h.source.snapshotErr = errors.New("cad: 503")
	require.Error(t, h.engine.Cycle(context.Background()))
	assert.Equal(t, "snapshot_error", h.engine.Status().LastOutcome)
}

func TestCycle_RestoresPersistedTable(t *testing.T) {
	h := newHarness(t)
	tbl := track.NewTable()
	tbl.Records["Inland:20260314:0042"] = &track.Record{
		NotificationID: 9,
		LastSignature:  "stale",
		LastText:       "old text",
		LastSeen:       startTime.Add(-time.Minute),
		FirstSeen:      startTime.Add(-time.Minute),
	}
	h.store.table = tbl

	h.source.snapshot = []domain.RawIncident{collision("0042")}
	h.source.narratives["0042"] = narrative{lines: []string{"9:05 AM 1 2 VEHS"}}
	h.cycle(t)

	assert.Empty(t, h.notifier.sends, "restored record owns the existing message")
	require.Len(t, h.notifier.edits, 1)
	assert.Equal(t, int64(9), h.notifier.edits[0].id)
}
