package supervisor

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
)

var (
	signalNames   map[syscall.Signal]string
	signalsByName map[string]syscall.Signal
	// sorted, for help output and validation messages
	knownSignalNames []string
)

func init() {
	// platformSignals is defined in the per-OS files
	signalNames = platformSignals(map[syscall.Signal]string{
		syscall.SIGABRT: "ABRT",
		syscall.SIGALRM: "ALRM",
		syscall.SIGBUS:  "BUS",
		syscall.SIGFPE:  "FPE",
		syscall.SIGHUP:  "HUP",
		syscall.SIGILL:  "ILL",
		syscall.SIGINT:  "INT",
		syscall.SIGKILL: "KILL",
		syscall.SIGPIPE: "PIPE",
		syscall.SIGQUIT: "QUIT",
		syscall.SIGSEGV: "SEGV",
		syscall.SIGTERM: "TERM",
		syscall.SIGTRAP: "TRAP",
	})

	signalsByName = make(map[string]syscall.Signal, len(signalNames))
	knownSignalNames = make([]string, 0, len(signalNames))
	for sig, name := range signalNames {
		signalsByName[name] = sig
		knownSignalNames = append(knownSignalNames, name)
	}
	sort.Strings(knownSignalNames)
}

// signame is the short name used in logs and exit statuses.
func signame(s os.Signal) string {
	if sig, ok := s.(syscall.Signal); ok {
		if name, ok := signalNames[sig]; ok {
			return name
		}
	}
	return fmt.Sprintf("UNKNOWN (%s)", s)
}

// SignalFromName accepts names with or without the SIG prefix, in any
// case. It returns nil for names it does not know.
func SignalFromName(n string) os.Signal {
	n = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(n)), "SIG")
	if sig, ok := signalsByName[n]; ok {
		return sig
	}
	return nil
}

// SignalNames lists, in sorted order, every name SignalFromName understands.
func SignalNames() []string {
	return append([]string(nil), knownSignalNames...)
}
