package scanner

import (
	"bufio"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// tcpEstablished is the kernel's numeric state for an established
// connection in /proc/net/tcp.
const tcpEstablished = "01"

type tcpConn struct {
	remoteIP   string
	remotePort int
}

// readTCPTables parses /proc/net/tcp and /proc/net/tcp6 and returns
// established connections keyed by socket inode.
func (s *Scanner) readTCPTables() (map[uint64]tcpConn, error) {
	conns := make(map[uint64]tcpConn)

	var firstErr error
	for _, table := range []string{"net/tcp", "net/tcp6"} {
		if err := s.readTCPTable(filepath.Join(s.procRoot, table), conns); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(conns) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return conns, nil
}

func (s *Scanner) readTCPTable(path string, out map[uint64]tcpConn) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line

	for sc.Scan() {
		inode, conn, ok := parseTCPLine(sc.Text())
		if !ok {
			continue
		}
		out[inode] = conn
	}
	return sc.Err()
}

// parseTCPLine parses one /proc/net/tcp[6] row. Only established
// connections are returned. The layout is:
//
//	sl local_address rem_address st tx:rx tr:tm->when retrnsmt uid timeout inode ...
func parseTCPLine(line string) (uint64, tcpConn, bool) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return 0, tcpConn{}, false
	}

	if fields[3] != tcpEstablished {
		return 0, tcpConn{}, false
	}

	ip, port, ok := parseHexAddr(fields[2])
	if !ok {
		return 0, tcpConn{}, false
	}

	inode, err := strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return 0, tcpConn{}, false
	}

	return inode, tcpConn{remoteIP: ip, remotePort: port}, true
}

// parseHexAddr decodes a kernel "ADDR:PORT" hex pair. IPv4 addresses
// are a single little-endian 32-bit group; IPv6 addresses are four
// little-endian 32-bit groups. IPv4-mapped IPv6 addresses are reported
// in their IPv4 form so both tables key the same endpoint identically.
func parseHexAddr(s string) (string, int, bool) {
	addrHex, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, false
	}

	port, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return "", 0, false
	}

	raw, err := hex.DecodeString(addrHex)
	if err != nil {
		return "", 0, false
	}

	var ip net.IP
	switch len(raw) {
	case 4:
		ip = net.IP{raw[3], raw[2], raw[1], raw[0]}
	case 16:
		ip = make(net.IP, 16)
		for g := 0; g < 4; g++ {
			for b := 0; b < 4; b++ {
				ip[g*4+b] = raw[g*4+3-b]
			}
		}
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
	default:
		return "", 0, false
	}

	return ip.String(), int(port), true
}
