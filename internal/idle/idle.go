// Package idle probes the system-wide user idle duration.
//
// A backend is auto-selected once at construction and used for the
// process lifetime. Every sample is bounded by a short timeout; a
// failed sample yields 0 without disqualifying the backend, so callers
// must treat 0 as "no signal", never as "user active".
package idle

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const probeTimeout = 5 * time.Second

// backend is one idle-detection strategy. selfTest runs one live
// sample at selection time; IdleMs failures afterwards are transient
// and yield 0.
type backend interface {
	Name() string
	IdleMs() int64
	selfTest() error
}

// Source reports system-wide idle time through the backend chosen at
// construction. A Source with no working backend reports unavailable
// and always returns 0.
type Source struct {
	backend backend
	log     *logrus.Entry
}

// New probes the candidate backends in priority order and fixes the
// first that works. On a Wayland session the compositor-native query
// is preferred; X helpers are still tried afterwards since XWayland
// may serve them.
func New() *Source {
	s := &Source{log: logrus.WithField("component", "idle")}

	sessionType := strings.ToLower(os.Getenv("XDG_SESSION_TYPE"))

	var candidates []backend
	if sessionType == "wayland" {
		candidates = append(candidates,
			&mutterBackend{},
			&commandBackend{name: "wprintidle"},
		)
	}
	candidates = append(candidates,
		&commandBackend{name: "xprintidle"},
		newXSSBackend(),
	)

	for _, c := range candidates {
		if c == nil {
			continue
		}
		if err := c.selfTest(); err != nil {
			s.log.Debugf("backend %s unavailable: %v", c.Name(), err)
			continue
		}
		s.backend = c
		s.log.Infof("idle detection: %s", c.Name())
		return s
	}

	s.log.Warn("no idle detection backend available")
	return s
}

// Available reports whether idle detection works on this system.
func (s *Source) Available() bool {
	return s.backend != nil
}

// Backend returns the selected backend name, or "" when unavailable.
func (s *Source) Backend() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.Name()
}

// IdleMs returns the system-wide idle duration in milliseconds, or 0
// when no backend is available or the sample failed.
func (s *Source) IdleMs() int64 {
	if s.backend == nil {
		return 0
	}
	return s.backend.IdleMs()
}

// commandBackend shells out to an idle-query helper (xprintidle,
// wprintidle) that prints the idle time in milliseconds.
type commandBackend struct {
	name string
}

func (b *commandBackend) Name() string { return b.name }

func (b *commandBackend) selfTest() error {
	_, err := b.run()
	return err
}

func (b *commandBackend) IdleMs() int64 {
	ms, err := b.run()
	if err != nil {
		return 0
	}
	return ms
}

func (b *commandBackend) run() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, b.name).Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
}

// mutterBackend queries the GNOME Mutter IdleMonitor D-Bus interface
// through gdbus. This is the only reliable source on a GNOME Wayland
// session.
type mutterBackend struct{}

func (b *mutterBackend) Name() string { return "mutter-idle-monitor" }

func (b *mutterBackend) selfTest() error {
	_, err := b.query()
	return err
}

func (b *mutterBackend) IdleMs() int64 {
	ms, err := b.query()
	if err != nil {
		return 0
	}
	return ms
}

func (b *mutterBackend) query() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gdbus", "call", "--session",
		"--dest", "org.gnome.Mutter.IdleMonitor",
		"--object-path", "/org/gnome/Mutter/IdleMonitor/Core",
		"--method", "org.gnome.Mutter.IdleMonitor.GetIdletime")

	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}

	return parseGdbusUint64(string(output))
}

var gdbusNumber = regexp.MustCompile(`\d+`)

// parseGdbusUint64 extracts the value from gdbus tuple output like
// "(uint64 123456,)". The type annotation contains digits too, so the
// last digit run is the value.
func parseGdbusUint64(s string) (int64, error) {
	matches := gdbusNumber.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0, errors.Errorf("no numeric value in gdbus output %q", strings.TrimSpace(s))
	}
	return strconv.ParseInt(matches[len(matches)-1], 10, 64)
}
