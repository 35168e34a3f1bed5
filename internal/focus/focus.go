// Package focus detects whether the monitored client's window holds
// input focus.
//
// Focus detection fails open: whenever the answer cannot be
// determined, the client is reported as focused, so an undetectable
// state is never mistaken for the user being away.
package focus

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Source answers window-focus queries for the monitored client.
type Source struct {
	display    string // "x11", "wayland" or "unknown"
	client     string
	x11        *x11Client
	hasXdotool bool
	hasXprop   bool
	log        *logrus.Entry
}

// New builds a Source for the current display server. On X11 a native
// X connection is preferred, with xdotool/xprop as tool fallbacks. On
// Wayland focus introspection is unavailable for security reasons and
// the Source always reports focused.
func New() *Source {
	s := &Source{
		client: "remmina",
		log:    logrus.WithField("component", "focus"),
	}

	switch {
	case os.Getenv("WAYLAND_DISPLAY") != "":
		s.display = "wayland"
	case os.Getenv("DISPLAY") != "":
		s.display = "x11"
	default:
		s.display = "unknown"
	}

	if s.display == "x11" {
		if client, err := newX11Client(); err == nil {
			s.x11 = client
		} else {
			s.log.Warnf("native X connection failed, using tool fallback: %v", err)
		}
		s.hasXdotool = commandExists("xdotool")
		s.hasXprop = commandExists("xprop")
		if s.x11 == nil && !s.hasXdotool && !s.hasXprop {
			s.log.Warn("no focus detection tool available, assuming focused")
		}
	}

	s.log.Infof("focus tracking initialized for %s", s.display)
	return s
}

func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// DisplayServer returns the detected display server type.
func (s *Source) DisplayServer() string {
	return s.display
}

// ClientFocused reports whether the monitored client's window holds
// focus. Two independent checks are tried - the window class and the
// owning process image name - and success on either counts as focused.
// Any failure to determine the state returns true.
func (s *Source) ClientFocused() bool {
	switch s.display {
	case "x11":
		return s.focusedX11()
	case "wayland":
		// Compositors do not expose the focused window; degrade to
		// system-wide idle behavior.
		return true
	default:
		return true
	}
}

func (s *Source) focusedX11() bool {
	if s.x11 != nil {
		if focused, ok := s.focusedNative(); ok {
			return focused
		}
	}
	return s.focusedTools()
}

// focusedNative answers over the native X connection. The second
// return value is false when the query itself failed and the tool
// fallback should run.
func (s *Source) focusedNative() (bool, bool) {
	win, err := s.x11.activeWindow()
	if err != nil {
		s.log.Debugf("native active-window query failed: %v", err)
		return true, false
	}

	instance, class := s.x11.windowClass(win)
	if s.matchesClient(instance) || s.matchesClient(class) {
		return true, true
	}

	if pid := s.x11.windowPID(win); pid > 0 {
		if s.matchesClient(processComm(int(pid))) {
			return true, true
		}
	}

	return false, true
}

// focusedTools answers via xdotool/xprop subprocesses.
func (s *Source) focusedTools() bool {
	windowID := s.activeWindowIDTools()
	if windowID == "" {
		// Cannot detect; assume focused.
		return true
	}

	if s.hasXprop {
		output, err := exec.Command("xprop", "-id", windowID, "WM_CLASS").Output()
		if err == nil && s.matchesClient(string(output)) {
			return true
		}
	}

	if s.hasXdotool {
		output, err := exec.Command("xdotool", "getactivewindow", "getwindowpid").Output()
		if err == nil {
			if pid, perr := strconv.Atoi(strings.TrimSpace(string(output))); perr == nil && pid > 0 {
				if s.matchesClient(processComm(pid)) {
					return true
				}
			}
		}
	}

	return false
}

// activeWindowIDTools finds the active window id with xdotool, then
// xprop on the root window.
func (s *Source) activeWindowIDTools() string {
	if s.hasXdotool {
		output, err := exec.Command("xdotool", "getactivewindow").Output()
		if err == nil {
			return strings.TrimSpace(string(output))
		}
	}

	if s.hasXprop {
		output, err := exec.Command("xprop", "-root", "_NET_ACTIVE_WINDOW").Output()
		if err == nil && strings.Contains(string(output), "0x") {
			fields := strings.Fields(string(output))
			return fields[len(fields)-1]
		}
	}

	return ""
}

func (s *Source) matchesClient(v string) bool {
	return v != "" && strings.Contains(strings.ToLower(v), s.client)
}

// processComm reads the image name of a process, or "" on failure.
func processComm(pid int) string {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Close releases the native X connection if one was opened.
func (s *Source) Close() error {
	if s.x11 != nil {
		s.x11.close()
		s.x11 = nil
	}
	return nil
}
