package scanner

import (
	"regexp"
	"strings"
)

var hostPortPattern = regexp.MustCompile(`^[\w.\-]+:\d+$`)

// sshValueFlags are ssh options that consume the following argument,
// so the token after them is never the target host.
var sshValueFlags = map[string]bool{
	"-p": true, "-l": true, "-i": true, "-o": true, "-F": true,
	"-L": true, "-R": true, "-D": true, "-W": true, "-J": true,
	"-c": true, "-m": true, "-b": true, "-E": true, "-S": true,
}

// ExtractServer recovers the target server from a standalone client's
// argv using the client's argument conventions. Returns "" when no
// target can be determined.
func ExtractServer(args []string, processName string) string {
	if len(args) == 0 {
		return ""
	}

	if rdpProcessNames[processName] {
		return extractRDPServer(args)
	}
	if sshProcessNames[processName] {
		return extractSSHServer(args)
	}
	return ""
}

func extractRDPServer(args []string) string {
	for i, arg := range args {
		if strings.HasPrefix(arg, "/v:") {
			return arg[len("/v:"):]
		}
		if strings.HasPrefix(arg, "--server-hostname") {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}

	// Bare host:port positional argument.
	for _, arg := range args[1:] {
		if hostPortPattern.MatchString(arg) {
			return arg
		}
	}
	return ""
}

func extractSSHServer(args []string) string {
	skipNext := false
	for _, arg := range args[1:] {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(arg, "-") {
			if sshValueFlags[arg] {
				skipNext = true
			}
			continue
		}

		host := arg
		if at := strings.Index(host, "@"); at != -1 {
			host = host[at+1:]
		}
		return host
	}
	return ""
}
