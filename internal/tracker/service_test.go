package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remtrack/remtrack/internal/config"
	"github.com/remtrack/remtrack/internal/models"
	"github.com/remtrack/remtrack/internal/scanner"
)

type fakeScanner struct {
	sessions map[string]scanner.Session
}

func (f *fakeScanner) Scan() map[string]scanner.Session {
	out := make(map[string]scanner.Session, len(f.sessions))
	for k, v := range f.sessions {
		out[k] = v
	}
	return out
}

func (f *fakeScanner) add(pid int, server, protocol string) string {
	key := fmt.Sprintf("%d:%s", pid, server)
	f.sessions[key] = scanner.Session{
		Key:         key,
		Server:      server,
		Protocol:    protocol,
		ProcessName: "remmina",
		PID:         pid,
	}
	return key
}

type fakeKiller struct {
	killed []string
	err    error
}

func (f *fakeKiller) Kill(sessionKey string) error {
	f.killed = append(f.killed, sessionKey)
	return f.err
}

type fakeIdle struct {
	available bool
	idleMs    int64
}

func (f *fakeIdle) Available() bool { return f.available }
func (f *fakeIdle) IdleMs() int64   { return f.idleMs }

type fakeFocus struct {
	focused bool
}

func (f *fakeFocus) ClientFocused() bool { return f.focused }

type recordedEvent struct {
	Event  string
	Server string
	Folder string
	Ts     time.Time
}

type fakeRecorder struct {
	events []recordedEvent
	err    error
}

func (f *fakeRecorder) Record(event, server, folder string, ts time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{event, server, folder, ts})
	return nil
}

func (f *fakeRecorder) byKind(kind string) []recordedEvent {
	var out []recordedEvent
	for _, e := range f.events {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeResolver struct {
	folders map[string]string
}

func (f *fakeResolver) Resolve(serverAddr string) string { return f.folders[serverAddr] }
func (f *fakeResolver) Refresh() error                   { return nil }

type fakeStore struct {
	events    []*models.SessionEvent
	errorLogs []*models.ErrorLog
}

func (f *fakeStore) CreateEvent(e *models.SessionEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) CreateErrorLog(l *models.ErrorLog) error {
	f.errorLogs = append(f.errorLogs, l)
	return nil
}

type fixture struct {
	svc      *Service
	scanner  *fakeScanner
	killer   *fakeKiller
	idle     *fakeIdle
	focus    *fakeFocus
	recorder *fakeRecorder
	store    *fakeStore
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Monitor.IdleThreshold = 10 * time.Minute
	cfg.Monitor.IdleEnabled = true

	f := &fixture{
		scanner:  &fakeScanner{sessions: make(map[string]scanner.Session)},
		killer:   &fakeKiller{},
		idle:     &fakeIdle{available: true},
		focus:    &fakeFocus{focused: true},
		recorder: &fakeRecorder{},
		store:    &fakeStore{},
		clock:    time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(cfg, Deps{
		Scanner:  f.scanner,
		Killer:   f.killer,
		Idle:     f.idle,
		Focus:    f.focus,
		Recorder: f.recorder,
		Resolver: &fakeResolver{folders: map[string]string{"192.168.1.50": "Production"}},
		Store:    f.store,
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestScanCycleRecordsStart(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)

	f.svc.ScanCycle()

	require.Len(t, f.recorder.events, 1)
	ev := f.recorder.events[0]
	assert.Equal(t, models.EventStart, ev.Event)
	assert.Equal(t, "192.168.1.50", ev.Server)
	assert.Equal(t, "Production", ev.Folder)
	assert.Equal(t, f.clock, ev.Ts)
	assert.Equal(t, 1, f.svc.ActiveCount())
}

func TestScanCycleRecordsEndOnDisconnect(t *testing.T) {
	f := newFixture(t)
	key := f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.advance(5 * time.Minute)
	delete(f.scanner.sessions, key)
	f.svc.ScanCycle()

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, "192.168.1.50", ends[0].Server)
	assert.Equal(t, f.clock, ends[0].Ts)
	assert.Equal(t, 0, f.svc.ActiveCount())
}

func TestScanCycleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)

	for i := 0; i < 5; i++ {
		f.svc.ScanCycle()
		f.advance(5 * time.Second)
	}

	assert.Len(t, f.recorder.events, 1, "repeated scans of the same session must not duplicate events")
	assert.Equal(t, 1, f.svc.ActiveCount())
}

func TestScanCycleTracksMultipleSessions(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.scanner.add(5678, "10.0.0.7", scanner.ProtocolSSH)

	f.svc.ScanCycle()

	assert.Equal(t, 2, f.svc.ActiveCount())
	assert.Len(t, f.recorder.byKind(models.EventStart), 2)
}

func TestDisconnectUnknownKeyIsNoop(t *testing.T) {
	f := newFixture(t)
	f.svc.handleDisconnect("999:10.9.9.9:3389")
	assert.Empty(t, f.recorder.events)
}

func TestScanCycleSkippedWhileSleeping(t *testing.T) {
	f := newFixture(t)
	key := f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.svc.HandleSleep(f.clock)
	delete(f.scanner.sessions, key)
	f.svc.ScanCycle()

	assert.Empty(t, f.recorder.byKind(models.EventEnd),
		"connections dropped during suspend must not be ended by the scanner")
	assert.Equal(t, 1, f.svc.ActiveCount())
}

func TestIdleCycleBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 10*60*1000 - 1
	f.svc.IdleCycle()

	assert.Empty(t, f.recorder.byKind(models.EventEnd))
	assert.Equal(t, 1, f.svc.ActiveCount())
	assert.Empty(t, f.killer.killed)
}

func TestIdleCycleAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 10 * 60 * 1000
	f.svc.IdleCycle()

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	// Idle equals the threshold exactly, so the end lands at "now".
	assert.Equal(t, f.clock, ends[0].Ts)
	assert.Equal(t, 0, f.svc.ActiveCount())
	assert.Len(t, f.killer.killed, 1)
}

func TestIdleCycleEndTimeAnchoredToActivity(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	// The check runs 50s after the threshold was crossed; the logged
	// end must be backdated to lastActivity + threshold.
	f.idle.idleMs = 650 * 1000
	f.svc.IdleCycle()

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	want := f.clock.Add(-50 * time.Second)
	assert.Equal(t, want, ends[0].Ts)
}

func TestIdleCycleUsesUnfocusedTimeWhenClientUnfocused(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	// System idle stays low (the user is typing elsewhere) but the
	// client window is unfocused the whole time.
	f.idle.idleMs = 1000
	f.focus.focused = false

	f.svc.IdleCycle()
	assert.Empty(t, f.recorder.byKind(models.EventEnd))

	unfocusedAt := f.clock
	f.advance(11 * time.Minute)
	f.svc.IdleCycle()

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, unfocusedAt.Add(10*time.Minute), ends[0].Ts)
}

func TestIdleCycleRegainedFocusResetsTimer(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 1000
	f.focus.focused = false
	f.svc.IdleCycle()

	f.advance(9 * time.Minute)
	f.focus.focused = true
	f.svc.IdleCycle()

	f.advance(2 * time.Minute)
	f.focus.focused = false
	f.svc.IdleCycle()

	assert.Empty(t, f.recorder.byKind(models.EventEnd),
		"unfocused timer must restart after focus returns")
}

func TestIdleCycleDisabled(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Monitor.IdleEnabled = false
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 60 * 60 * 1000
	f.svc.IdleCycle()

	assert.Equal(t, 1, f.svc.ActiveCount())
	assert.Empty(t, f.recorder.byKind(models.EventEnd))
}

func TestIdleCycleUnavailableBackend(t *testing.T) {
	f := newFixture(t)
	f.idle.available = false
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 60 * 60 * 1000
	f.svc.IdleCycle()

	assert.Equal(t, 1, f.svc.ActiveCount())
}

func TestIdleCycleNoSessionsResetsUnfocusedTimer(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.focus.focused = false
	f.svc.IdleCycle()
	require.False(t, f.svc.unfocusedSince.IsZero())

	f.scanner.sessions = map[string]scanner.Session{}
	f.svc.ScanCycle()
	f.svc.IdleCycle()

	assert.True(t, f.svc.unfocusedSince.IsZero())
}

func TestHandleWakeAlreadyIdleBeforeSleep(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	// 650s idle at sleep time with a 600s threshold: the cutoff lands
	// 50s before the machine slept.
	sleepAt := f.clock
	f.idle.idleMs = 650 * 1000
	f.svc.HandleSleep(sleepAt)

	f.advance(2 * time.Hour)
	f.svc.HandleWake(f.clock)

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, sleepAt.Add(-50*time.Second), ends[0].Ts)
	assert.Equal(t, 0, f.svc.ActiveCount())
}

func TestHandleWakeThresholdCrossedDuringSleep(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	sleepAt := f.clock
	f.idle.idleMs = 0
	f.svc.HandleSleep(sleepAt)

	// Asleep for 700s: the threshold was crossed 600s into the nap.
	f.advance(700 * time.Second)
	f.svc.HandleWake(f.clock)

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, sleepAt.Add(10*time.Minute), ends[0].Ts)
	assert.Equal(t, 0, f.svc.ActiveCount())
}

func TestHandleWakeUnderThreshold(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 100 * 1000
	f.svc.HandleSleep(f.clock)

	f.advance(200 * time.Second)
	f.svc.HandleWake(f.clock)

	assert.Empty(t, f.recorder.byKind(models.EventEnd))
	assert.Equal(t, 1, f.svc.ActiveCount())
	assert.False(t, f.svc.sleeping, "monitoring must resume after wake")
}

func TestHandleWakeNoSessions(t *testing.T) {
	f := newFixture(t)
	f.idle.idleMs = 60 * 60 * 1000
	f.svc.HandleSleep(f.clock)
	f.advance(2 * time.Hour)
	f.svc.HandleWake(f.clock)

	assert.Empty(t, f.recorder.events)
	assert.False(t, f.svc.sleeping)
	assert.True(t, f.svc.sleepAt.IsZero())
}

func TestEndAllSessionsRemovesOnKillFailure(t *testing.T) {
	f := newFixture(t)
	f.killer.err = fmt.Errorf("process already gone")
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	f.idle.idleMs = 20 * 60 * 1000
	f.svc.IdleCycle()

	assert.Equal(t, 0, f.svc.ActiveCount(),
		"sessions must leave the registry even when termination fails")
	require.Len(t, f.store.errorLogs, 1)
	assert.Contains(t, f.store.errorLogs[0].ErrorMsg, "process already gone")
}

func TestFlushEndsAllSessions(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.scanner.add(5678, "10.0.0.7", scanner.ProtocolSSH)
	f.svc.ScanCycle()

	f.advance(time.Minute)
	f.svc.flush()

	ends := f.recorder.byKind(models.EventEnd)
	require.Len(t, ends, 2)
	for _, e := range ends {
		assert.Equal(t, f.clock, e.Ts)
	}
	assert.Equal(t, 0, f.svc.ActiveCount())
	assert.Empty(t, f.killer.killed, "shutdown logs ends but never kills")
}

func TestRecordMirrorsToStore(t *testing.T) {
	f := newFixture(t)
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)
	f.svc.ScanCycle()

	require.Len(t, f.store.events, 1)
	assert.Equal(t, models.EventStart, f.store.events[0].Kind)
	assert.Equal(t, scanner.ProtocolRDP, f.store.events[0].Protocol)
}

func TestRecorderFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = fmt.Errorf("disk full")
	f.scanner.add(1234, "192.168.1.50", scanner.ProtocolRDP)

	f.svc.ScanCycle()

	assert.Equal(t, 1, f.svc.ActiveCount(), "tracking continues when the sink fails")
	require.NotEmpty(t, f.store.errorLogs)
	assert.Contains(t, f.store.errorLogs[0].ErrorMsg, "disk full")
}
