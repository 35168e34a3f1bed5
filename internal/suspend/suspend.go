// Package suspend observes system sleep/wake transitions.
//
// systemd-logind broadcasts org.freedesktop.login1.Manager.PrepareForSleep
// on the system bus: once with true before suspending and once with
// false after resuming. The monitor follows the bus through a
// long-running `gdbus monitor` subprocess and converts the signal into
// timestamped events on a channel.
package suspend

import (
	"bufio"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Event is one sleep or wake transition.
type Event struct {
	Sleeping bool // true when entering sleep, false on wake
	At       time.Time
}

// Monitor subscribes to logind sleep/wake signals.
type Monitor struct {
	cmd    *exec.Cmd
	events chan Event
	log    *logrus.Entry
}

// New creates an unstarted Monitor.
func New() *Monitor {
	return &Monitor{
		events: make(chan Event, 4),
		log:    logrus.WithField("component", "suspend"),
	}
}

// Events returns the channel sleep/wake events are delivered on. The
// channel is closed when the monitor stops.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start launches the bus subscription. An error means sleep/wake
// awareness is unavailable; the caller logs it and continues without.
func (m *Monitor) Start() error {
	cmd := exec.Command("gdbus", "monitor", "--system",
		"--dest", "org.freedesktop.login1",
		"--object-path", "/org/freedesktop/login1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open gdbus pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start gdbus monitor")
	}

	m.cmd = cmd

	go func() {
		defer close(m.events)
		defer cmd.Wait()

		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			ev, ok := parseSignalLine(sc.Text())
			if !ok {
				continue
			}
			if ev.Sleeping {
				m.log.Infof("system going to sleep at %s", ev.At.Format(time.RFC3339))
			} else {
				m.log.Infof("system woke up at %s", ev.At.Format(time.RFC3339))
			}
			select {
			case m.events <- ev:
			default:
				// A stalled consumer only costs us a stale transition.
				m.log.Warn("dropping sleep/wake event, channel full")
			}
		}
	}()

	m.log.Info("sleep/wake detection active (systemd-logind)")
	return nil
}

// Stop terminates the bus subscription.
func (m *Monitor) Stop() {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
}

// parseSignalLine recognizes PrepareForSleep signal lines in gdbus
// monitor output, e.g.
//
//	/org/freedesktop/login1: org.freedesktop.login1.Manager.PrepareForSleep (true,)
func parseSignalLine(line string) (Event, bool) {
	if !strings.Contains(line, "PrepareForSleep") {
		return Event{}, false
	}

	now := time.Now()
	switch {
	case strings.Contains(line, "(true,"):
		return Event{Sleeping: true, At: now}, true
	case strings.Contains(line, "(false,"):
		return Event{Sleeping: false, At: now}, true
	}
	return Event{}, false
}
