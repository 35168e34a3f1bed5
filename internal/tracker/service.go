// Package tracker runs the session monitoring loop: periodic
// connection scans, idle-policy evaluation and sleep/wake
// reconciliation.
//
// All state (the session registry, the unfocused-since timestamp and
// the sleep window) is owned by the Service and mutated only from its
// single loop goroutine; sleep/wake events arrive over a channel into
// the same select, so no locking is needed.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/remtrack/remtrack/internal/config"
	"github.com/remtrack/remtrack/internal/models"
	"github.com/remtrack/remtrack/internal/scanner"
	"github.com/remtrack/remtrack/internal/suspend"
)

// Scanner enumerates currently-live remote sessions.
type Scanner interface {
	Scan() map[string]scanner.Session
}

// Killer requests graceful termination of a session's owning process.
type Killer interface {
	Kill(sessionKey string) error
}

// IdleSource reports system-wide user idle time.
type IdleSource interface {
	Available() bool
	IdleMs() int64
}

// FocusSource reports whether the monitored client's window has focus.
type FocusSource interface {
	ClientFocused() bool
}

// Recorder is the durable session event sink.
type Recorder interface {
	Record(event, server, folder string, ts time.Time) error
}

// FolderResolver maps server addresses to profile folder labels.
type FolderResolver interface {
	Resolve(serverAddr string) string
	Refresh() error
}

// EventStore mirrors events into the reporting database. Optional.
type EventStore interface {
	CreateEvent(*models.SessionEvent) error
	CreateErrorLog(*models.ErrorLog) error
}

// ActiveSession is one tracked remote connection. Entries are created
// when first observed and never mutated afterwards, only removed.
type ActiveSession struct {
	Key         string
	Server      string
	Folder      string
	Protocol    string
	StartTime   time.Time
	ProcessName string
}

// Deps are the collaborators injected into a Service.
type Deps struct {
	Scanner  Scanner
	Killer   Killer
	Idle     IdleSource
	Focus    FocusSource
	Recorder Recorder
	Resolver FolderResolver

	// Store is optional; nil disables report mirroring.
	Store EventStore

	// SuspendEvents is optional; nil disables sleep/wake awareness.
	SuspendEvents <-chan suspend.Event
}

// Service orchestrates scanning, the idle policy and sleep/wake
// reconciliation over the injected collaborators.
type Service struct {
	cfg  *config.Config
	deps Deps

	sessions map[string]*ActiveSession

	// unfocusedSince is set when the client loses focus and zeroed
	// when it returns; while set, effective idle is measured from it.
	unfocusedSince time.Time

	// Sleep window; at most one is open at a time.
	sleeping       bool
	sleepAt        time.Time
	preSleepIdleMs int64

	now func() time.Time

	stopChan chan struct{}
	running  bool
	log      *logrus.Entry
}

// NewService creates a Service. Scanner, Recorder and Resolver are
// required; the remaining collaborators degrade gracefully when nil.
func NewService(cfg *config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*ActiveSession),
		now:      time.Now,
		stopChan: make(chan struct{}),
		log:      logrus.WithField("component", "tracker"),
	}
}

// ActiveCount returns the number of tracked sessions.
func (s *Service) ActiveCount() int {
	return len(s.sessions)
}

// IsRunning reports whether the loop is active.
func (s *Service) IsRunning() bool {
	return s.running
}

// Start runs the monitoring loop until ctx is cancelled or Stop is
// called. On exit every still-active session gets an end event at the
// current timestamp so nothing is left open in the log.
func (s *Service) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("tracker is already running")
	}
	s.running = true

	idleEnabled := s.cfg.Monitor.IdleEnabled && s.deps.Idle != nil && s.deps.Idle.Available()
	s.log.Infof("monitor starting: scan every %v, idle check every %v, threshold %v, idle detection %v",
		s.cfg.Monitor.ScanInterval, s.cfg.Monitor.IdleCheckInterval,
		s.cfg.Monitor.IdleThreshold, idleEnabled)

	scanTicker := time.NewTicker(s.cfg.Monitor.ScanInterval)
	defer scanTicker.Stop()
	idleTicker := time.NewTicker(s.cfg.Monitor.IdleCheckInterval)
	defer idleTicker.Stop()
	profileTicker := time.NewTicker(s.cfg.Monitor.ProfileRefreshCycle)
	defer profileTicker.Stop()

	s.refreshProfiles()
	s.ScanCycle()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("tracker stopped by context")
			s.flush()
			s.running = false
			return ctx.Err()

		case <-s.stopChan:
			s.log.Info("tracker stopped")
			s.flush()
			s.running = false
			return nil

		case <-scanTicker.C:
			s.ScanCycle()

		case <-idleTicker.C:
			s.IdleCycle()

		case <-profileTicker.C:
			s.refreshProfiles()

		case ev, ok := <-s.deps.SuspendEvents:
			if !ok {
				// Monitor died; continue without sleep/wake awareness.
				s.deps.SuspendEvents = nil
				continue
			}
			if ev.Sleeping {
				s.HandleSleep(ev.At)
			} else {
				s.HandleWake(ev.At)
			}
		}
	}
}

// Stop requests loop termination.
func (s *Service) Stop() {
	if s.running {
		close(s.stopChan)
	}
}

// ScanCycle diffs the scanner snapshot against the registry and emits
// start/end events. A no-op while sleeping.
func (s *Service) ScanCycle() {
	if s.sleeping {
		return
	}

	current := s.deps.Scanner.Scan()

	for key, info := range current {
		if _, tracked := s.sessions[key]; tracked {
			continue
		}
		s.handleConnect(key, info)
	}

	for key := range s.sessions {
		if _, stillLive := current[key]; stillLive {
			continue
		}
		s.handleDisconnect(key)
	}
}

func (s *Service) handleConnect(key string, info scanner.Session) {
	folder := ""
	if s.deps.Resolver != nil {
		folder = s.deps.Resolver.Resolve(info.Server)
	}

	now := s.now()
	s.sessions[key] = &ActiveSession{
		Key:         key,
		Server:      info.Server,
		Folder:      folder,
		Protocol:    info.Protocol,
		StartTime:   now,
		ProcessName: info.ProcessName,
	}

	s.record(models.EventStart, info.Server, folder, info.Protocol, now)
	s.log.Infof("connection started: %s | folder=%s | protocol=%s", info.Server, folder, info.Protocol)
}

func (s *Service) handleDisconnect(key string) {
	session, ok := s.sessions[key]
	if !ok {
		return
	}
	delete(s.sessions, key)

	s.record(models.EventEnd, session.Server, session.Folder, session.Protocol, s.now())
	s.log.Infof("connection ended: %s | folder=%s", session.Server, session.Folder)
}

// IdleCycle evaluates the idle policy. Effective idle is the raw
// system idle time while the client is focused, or the time since
// focus was lost otherwise. When it reaches the threshold, every
// session ends at the instant inactivity began plus the threshold,
// not at whenever this check happened to run.
func (s *Service) IdleCycle() {
	if s.sleeping {
		return
	}
	if !s.cfg.Monitor.IdleEnabled || s.deps.Idle == nil || !s.deps.Idle.Available() {
		return
	}
	if len(s.sessions) == 0 {
		s.unfocusedSince = time.Time{}
		return
	}

	now := s.now()

	focused := true
	if s.deps.Focus != nil {
		focused = s.deps.Focus.ClientFocused()
	}

	if !focused {
		if s.unfocusedSince.IsZero() {
			s.unfocusedSince = now
			s.log.Debug("client lost focus, starting unfocused timer")
		}
	} else {
		if !s.unfocusedSince.IsZero() {
			s.log.Debug("client regained focus, resetting unfocused timer")
		}
		s.unfocusedSince = time.Time{}
	}

	var idleMs int64
	var reason string
	if !focused && !s.unfocusedSince.IsZero() {
		idleMs = now.Sub(s.unfocusedSince).Milliseconds()
		reason = fmt.Sprintf("client unfocused for %.1f min", float64(idleMs)/60000)
	} else {
		idleMs = s.deps.Idle.IdleMs()
		reason = fmt.Sprintf("system idle for %.1f min", float64(idleMs)/60000)
	}

	thresholdMs := s.cfg.Monitor.IdleThreshold.Milliseconds()
	if idleMs < thresholdMs {
		return
	}

	// Anchor the end time to when inactivity actually began.
	lastActivity := now.Add(-time.Duration(idleMs) * time.Millisecond)
	endTime := lastActivity.Add(s.cfg.Monitor.IdleThreshold)

	s.log.Infof("idle threshold reached: %s, ending all sessions", reason)
	s.endAllSessions(endTime)
	s.unfocusedSince = time.Time{}
}

// HandleSleep opens the sleep window: the idle counter is snapshotted
// and scanning freezes until wake.
func (s *Service) HandleSleep(at time.Time) {
	s.sleeping = true
	s.sleepAt = at
	s.preSleepIdleMs = 0
	if s.cfg.Monitor.IdleEnabled && s.deps.Idle != nil && s.deps.Idle.Available() {
		s.preSleepIdleMs = s.deps.Idle.IdleMs()
	}

	s.log.Infof("sleep detected, pre-sleep idle %.1fs, active sessions %d",
		float64(s.preSleepIdleMs)/1000, len(s.sessions))
}

// HandleWake closes the sleep window and reconciles the idle time that
// accumulated across it. Idle counters are assumed frozen during
// suspend, so last activity stays anchored at the sleep timestamp
// minus the pre-sleep idle in both termination branches.
func (s *Service) HandleWake(at time.Time) {
	s.sleeping = false

	var sleepDurMs int64
	if !s.sleepAt.IsZero() {
		sleepDurMs = at.Sub(s.sleepAt).Milliseconds()
	}

	s.log.Infof("wake detected after %.1f min, checking idle state", float64(sleepDurMs)/60000)

	if len(s.sessions) == 0 {
		s.sleepAt = time.Time{}
		return
	}

	thresholdMs := s.cfg.Monitor.IdleThreshold.Milliseconds()
	totalIdleMs := s.preSleepIdleMs + sleepDurMs

	switch {
	case s.preSleepIdleMs >= thresholdMs:
		// Already past the threshold before sleeping.
		s.log.Info("was already idle before sleep, ending sessions at pre-sleep cutoff")
		s.endAllSessions(s.sleepCutoff())

	case totalIdleMs >= thresholdMs:
		// Crossed the threshold somewhere inside the suspend interval.
		endTime := s.sleepCutoff()
		s.log.Infof("idle threshold crossed during sleep, ending sessions at %s",
			endTime.Format("15:04:05"))
		s.endAllSessions(endTime)

	default:
		s.log.Infof("total idle %.1f min under threshold, resuming monitoring",
			float64(totalIdleMs)/60000)
	}

	s.sleepAt = time.Time{}
}

// sleepCutoff is lastActivity + threshold with lastActivity derived
// from the sleep timestamp.
func (s *Service) sleepCutoff() time.Time {
	lastActivity := s.sleepAt.Add(-time.Duration(s.preSleepIdleMs) * time.Millisecond)
	return lastActivity.Add(s.cfg.Monitor.IdleThreshold)
}

// endAllSessions records an end event for every active session at
// endTime, requests termination of each owning process, and empties
// the registry. A failed kill is logged and the session is removed
// anyway: once the end is logged, the log is the source of truth.
func (s *Service) endAllSessions(endTime time.Time) {
	for key, session := range s.sessions {
		s.record(models.EventEnd, session.Server, session.Folder, session.Protocol, endTime)

		if s.deps.Killer != nil {
			if err := s.deps.Killer.Kill(key); err != nil {
				s.log.Warnf("failed to terminate session %s: %v", key, err)
				s.storeError(err)
			}
		}

		delete(s.sessions, key)
		s.log.Infof("auto-disconnected: %s (%s) at %s",
			session.Server, session.Folder, endTime.Format("15:04:05"))
	}
}

// flush emits an end event for every still-active session at the
// current timestamp. Called once on shutdown.
func (s *Service) flush() {
	now := s.now()
	for key, session := range s.sessions {
		s.record(models.EventEnd, session.Server, session.Folder, session.Protocol, now)
		delete(s.sessions, key)
		s.log.Infof("logged end on shutdown: %s (%s)", session.Server, session.Folder)
	}
}

func (s *Service) refreshProfiles() {
	if s.deps.Resolver == nil {
		return
	}
	if err := s.deps.Resolver.Refresh(); err != nil {
		s.log.Warnf("failed to refresh profiles: %v", err)
	}
}

// record writes one event to the durable sink and mirrors it into the
// reporting store. Sink failures are logged and stored; they never
// abort the cycle.
func (s *Service) record(kind, server, folder, protocol string, ts time.Time) {
	if err := s.deps.Recorder.Record(kind, server, folder, ts); err != nil {
		s.log.Errorf("failed to record %s event for %s: %v", kind, server, err)
		s.storeError(err)
	}

	if s.deps.Store == nil {
		return
	}
	event := &models.SessionEvent{
		Timestamp: ts,
		Kind:      kind,
		Server:    server,
		Folder:    folder,
		Protocol:  protocol,
	}
	if err := s.deps.Store.CreateEvent(event); err != nil {
		s.log.Warnf("failed to mirror %s event to database: %v", kind, err)
	}
}

func (s *Service) storeError(err error) {
	if s.deps.Store == nil {
		return
	}
	errorLog := &models.ErrorLog{
		Timestamp: s.now(),
		Component: "tracker",
		ErrorMsg:  err.Error(),
	}
	if dbErr := s.deps.Store.CreateErrorLog(errorLog); dbErr != nil {
		s.log.Warnf("failed to store error in database: %v (original error: %v)", dbErr, err)
	}
}
