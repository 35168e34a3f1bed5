// Package scanner enumerates live RDP/SSH sessions opened through
// Remmina by inspecting the process table and kernel TCP tables.
//
// Two detection methods run on every scan:
//
//  1. Network-based: established TCP connections owned by a Remmina
//     process with remote port 3389 (RDP) or 22 (SSH). Modern Remmina
//     uses libfreerdp in-process, so the connection is the only
//     observable trace of a session.
//  2. Process-based fallback: standalone xfreerdp/ssh client processes,
//     with the target server recovered from their command line.
//
// Both methods can report the same logical connection under different
// keys if Remmina restarts mid-session; keys are merged by equality
// only, with network detection winning on an exact collision. This is
// a known limitation, not a bug to paper over.
package scanner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Protocols reported for tracked sessions.
const (
	ProtocolRDP = "RDP"
	ProtocolSSH = "SSH"
)

// Ports that indicate active remote sessions.
const (
	rdpPort = 3389
	sshPort = 22
)

var monitoredPorts = map[int]string{
	rdpPort: ProtocolRDP,
	sshPort: ProtocolSSH,
}

// Fallback process names for setups that spawn separate client processes.
var (
	rdpProcessNames = map[string]bool{"xfreerdp": true, "xfreerdp3": true, "wlfreerdp": true}
	sshProcessNames = map[string]bool{"ssh": true}
)

// Session is one detected remote connection. The Key is stable for the
// connection's lifetime and unique per tracked connection.
type Session struct {
	Key         string
	Server      string // host:port or bare host
	Protocol    string // "RDP" or "SSH"
	ProcessName string
	PID         int
}

// Scanner detects active sessions from /proc. The zero value is not
// usable; call New.
type Scanner struct {
	procRoot string
	client   string // monitored client identifier, matched against comm
	log      *logrus.Entry
}

// New creates a Scanner reading the real /proc and monitoring Remmina.
func New() *Scanner {
	return &Scanner{
		procRoot: "/proc",
		client:   "remmina",
		log:      logrus.WithField("component", "scanner"),
	}
}

// Scan returns the currently-live sessions keyed by session key. It is
// a best-effort snapshot: processes or connections that vanish between
// enumeration steps are skipped, permission errors on individual
// processes are skipped, and a total failure yields an empty map.
func (s *Scanner) Scan() map[string]Session {
	sessions := make(map[string]Session)

	clientPids := s.findClientPids()
	if len(clientPids) > 0 {
		s.scanConnections(clientPids, sessions)
	}

	// Fallback entries never overwrite primary entries with the same key.
	for key, sess := range s.scanStandalone() {
		if _, ok := sessions[key]; !ok {
			sessions[key] = sess
		}
	}

	if len(sessions) > 0 {
		s.log.Debugf("active sessions: %d", len(sessions))
	}
	return sessions
}

// findClientPids returns the PIDs of all running monitored-client processes.
func (s *Scanner) findClientPids() []int {
	var pids []int
	for _, pid := range s.listPids() {
		name, err := s.processName(pid)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(name), s.client) {
			pids = append(pids, pid)
		}
	}
	return pids
}

// scanConnections adds one session for every established TCP connection
// owned by a client process whose remote port is monitored.
func (s *Scanner) scanConnections(clientPids []int, out map[string]Session) {
	conns, err := s.readTCPTables()
	if err != nil {
		s.log.Debugf("cannot read tcp tables: %v", err)
		return
	}

	for _, pid := range clientPids {
		inodes, err := s.socketInodes(pid)
		if err != nil {
			s.log.Debugf("cannot read sockets for pid %d: %v", pid, err)
			continue
		}

		for inode := range inodes {
			conn, ok := conns[inode]
			if !ok {
				continue
			}
			protocol, ok := monitoredPorts[conn.remotePort]
			if !ok {
				continue
			}

			server := conn.remoteIP + ":" + strconv.Itoa(conn.remotePort)
			key := strconv.Itoa(pid) + ":" + server

			out[key] = Session{
				Key:         key,
				Server:      server,
				Protocol:    protocol,
				ProcessName: s.client,
				PID:         pid,
			}
			s.log.Debugf("found %s connection %s (pid %d)", protocol, server, pid)
		}
	}
}

// scanStandalone detects separate xfreerdp/ssh client processes. SSH
// processes are only counted when a Remmina ancestor exists, so shell
// sessions the user opened by hand are not captured.
func (s *Scanner) scanStandalone() map[string]Session {
	sessions := make(map[string]Session)

	for _, pid := range s.listPids() {
		name, err := s.processName(pid)
		if err != nil {
			continue
		}

		matched := matchClientName(strings.ToLower(name))
		if matched == "" {
			continue
		}

		if sshProcessNames[matched] && !s.hasClientAncestor(pid) {
			continue
		}

		args, err := s.cmdline(pid)
		if err != nil {
			continue
		}

		server := ExtractServer(args, matched)
		if server == "" {
			continue
		}

		protocol := ProtocolSSH
		if rdpProcessNames[matched] {
			protocol = ProtocolRDP
		}

		key := strconv.Itoa(pid) + ":" + server
		sessions[key] = Session{
			Key:         key,
			Server:      server,
			Protocol:    protocol,
			ProcessName: matched,
			PID:         pid,
		}
	}

	return sessions
}

func matchClientName(name string) string {
	for monitored := range rdpProcessNames {
		if name == monitored || strings.HasPrefix(name, monitored) {
			return monitored
		}
	}
	for monitored := range sshProcessNames {
		if name == monitored {
			return monitored
		}
	}
	return ""
}

// hasClientAncestor walks the parent chain looking for the monitored client.
func (s *Scanner) hasClientAncestor(pid int) bool {
	for depth := 0; depth < 32; depth++ {
		ppid, err := s.parentPid(pid)
		if err != nil || ppid <= 1 {
			return false
		}
		name, err := s.processName(ppid)
		if err != nil {
			return false
		}
		if strings.Contains(strings.ToLower(name), s.client) {
			return true
		}
		pid = ppid
	}
	return false
}

// Kill sends SIGTERM to the process owning sessionKey. For sessions
// detected from Remmina's own connections this terminates Remmina; for
// standalone clients it terminates the client process.
func (s *Scanner) Kill(sessionKey string) error {
	pidStr, _, ok := strings.Cut(sessionKey, ":")
	if !ok {
		return errors.Errorf("cannot parse pid from session key %q", sessionKey)
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return errors.Wrapf(err, "cannot parse pid from session key %q", sessionKey)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(err, "failed to find process %d", pid)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrapf(err, "failed to signal process %d", pid)
	}

	s.log.Infof("sent SIGTERM to pid %d", pid)
	return nil
}

// listPids enumerates numeric entries under /proc.
func (s *Scanner) listPids() []int {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil
	}

	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// processName reads the comm field from /proc/<pid>/stat. The name is
// taken from between the parentheses, which survives names with spaces.
func (s *Scanner) processName(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", err
	}

	statStr := string(data)
	start := strings.Index(statStr, "(")
	end := strings.LastIndex(statStr, ")")
	if start == -1 || end == -1 || end <= start {
		return "", errors.Errorf("malformed stat for pid %d", pid)
	}
	return statStr[start+1 : end], nil
}

// parentPid reads the ppid field from /proc/<pid>/stat.
func (s *Scanner) parentPid(pid int) (int, error) {
	data, err := os.ReadFile(filepath.Join(s.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}

	statStr := string(data)
	end := strings.LastIndex(statStr, ")")
	if end == -1 || end+2 >= len(statStr) {
		return 0, errors.Errorf("malformed stat for pid %d", pid)
	}

	fields := strings.Fields(statStr[end+2:])
	if len(fields) < 2 {
		return 0, errors.Errorf("malformed stat for pid %d", pid)
	}
	return strconv.Atoi(fields[1])
}

// cmdline reads the NUL-separated argv of a process.
func (s *Scanner) cmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.procRoot, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}

	raw := strings.Split(string(data), "\x00")
	args := make([]string, 0, len(raw))
	for _, a := range raw {
		if a != "" {
			args = append(args, a)
		}
	}
	return args, nil
}

// socketInodes returns the socket inodes held open by a process, read
// from the symlink targets under /proc/<pid>/fd.
func (s *Scanner) socketInodes(pid int) (map[uint64]bool, error) {
	fdDir := filepath.Join(s.procRoot, strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, err
	}

	inodes := make(map[uint64]bool)
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil {
			continue
		}
		inode, ok := parseSocketLink(target)
		if !ok {
			continue
		}
		inodes[inode] = true
	}
	return inodes, nil
}

// parseSocketLink extracts the inode from an fd symlink target of the
// form "socket:[12345]".
func parseSocketLink(target string) (uint64, bool) {
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return 0, false
	}
	inode, err := strconv.ParseUint(target[len("socket:["):len(target)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}
