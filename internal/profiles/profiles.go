// Package profiles resolves remote server addresses to the folder
// (group) label configured in Remmina connection profiles.
package profiles

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Profile is one parsed .remmina connection profile.
type Profile struct {
	Server   string
	Group    string
	Name     string
	Protocol string
	FilePath string
}

// Store caches parsed profiles and answers server->folder lookups.
// Refresh is driven by the tracker's slow cadence and, when the
// profile directory exists, by fsnotify events.
type Store struct {
	dir string
	log *logrus.Entry

	mu       sync.RWMutex
	profiles []Profile

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// DefaultDir returns the standard Remmina profile directory.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share", "remmina")
}

// NewStore creates a Store reading profiles from dir. The initial load
// is best-effort: a missing directory yields an empty store, not an error.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	s := &Store{
		dir: dir,
		log: logrus.WithField("component", "profiles"),
	}
	if err := s.Refresh(); err != nil {
		s.log.Warnf("initial profile load failed: %v", err)
	}
	return s
}

// Refresh re-reads every .remmina file under the store directory.
func (s *Store) Refresh() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.remmina"))
	if err != nil {
		return errors.Wrap(err, "failed to list remmina profiles")
	}

	profiles := make([]Profile, 0, len(matches))
	for _, path := range matches {
		p, err := parseFile(path)
		if err != nil {
			s.log.Warnf("failed to parse %s: %v", path, err)
			continue
		}
		if p.Server == "" {
			continue
		}
		profiles = append(profiles, p)
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	s.log.Debugf("loaded %d profiles from %s", len(profiles), s.dir)
	return nil
}

func parseFile(path string) (Profile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Profile{}, err
	}

	sec, err := cfg.GetSection("remmina")
	if err != nil {
		return Profile{}, err
	}

	return Profile{
		Server:   sec.Key("server").String(),
		Group:    sec.Key("group").String(),
		Name:     sec.Key("name").String(),
		Protocol: sec.Key("protocol").String(),
		FilePath: path,
	}, nil
}

// Resolve returns the folder label for a server address, or "" when no
// profile matches. Default ports are stripped and loopback aliases are
// treated as equivalent before matching; if no exact normalized match
// exists a substring containment match is tried.
func (s *Store) Resolve(serverAddr string) string {
	p := s.Find(serverAddr)
	if p == nil {
		return ""
	}
	return p.Group
}

// Find returns the matching profile, or nil.
func (s *Store) Find(serverAddr string) *Profile {
	target := normalize(serverAddr)
	if target == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.profiles {
		if normalize(s.profiles[i].Server) == target {
			return &s.profiles[i]
		}
	}

	for i := range s.profiles {
		pserver := normalize(s.profiles[i].Server)
		if pserver == "" {
			continue
		}
		if strings.Contains(pserver, target) || strings.Contains(target, pserver) {
			return &s.profiles[i]
		}
	}

	return nil
}

var localhostAliases = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
}

func normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasSuffix(addr, ":3389") || strings.HasSuffix(addr, ":22") {
		addr = addr[:strings.LastIndex(addr, ":")]
	}
	if localhostAliases[addr] {
		addr = "localhost"
	}
	return addr
}

// Watch starts an fsnotify watcher on the profile directory and
// refreshes the store whenever a profile file changes. Returns an
// error when the directory cannot be watched; the caller falls back to
// the periodic refresh alone.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create profile watcher")
	}

	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch %s", s.dir)
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".remmina") {
					continue
				}
				if err := s.Refresh(); err != nil {
					s.log.Warnf("refresh after %s failed: %v", ev.Op, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warnf("profile watcher error: %v", err)
			}
		}
	}()

	s.log.Infof("watching profile directory: %s", s.dir)
	return nil
}

// Close stops the watcher if one is running.
func (s *Store) Close() error {
	if s.watcher != nil {
		close(s.done)
		return s.watcher.Close()
	}
	return nil
}
