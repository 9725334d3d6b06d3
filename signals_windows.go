package supervisor

import (
	"os"
	"syscall"
)

func platformSignals(v map[syscall.Signal]string) map[syscall.Signal]string {
	return v
}

func exitStatusOf(pid int, st *os.ProcessState) ExitStatus {
	return ExitStatus{Pid: pid, Code: st.ExitCode()}
}

// ExtraFiles is not supported on windows.
const ipcSupported = false
