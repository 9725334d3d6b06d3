//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

func platformSignals(v map[syscall.Signal]string) map[syscall.Signal]string {
	v[syscall.SIGCHLD] = "CHLD"
	v[syscall.SIGCONT] = "CONT"
	v[syscall.SIGIO] = "IO"
	v[syscall.SIGPROF] = "PROF"
	v[syscall.SIGSTOP] = "STOP"
	v[syscall.SIGSYS] = "SYS"
	v[syscall.SIGTSTP] = "TSTP"
	v[syscall.SIGTTIN] = "TTIN"
	v[syscall.SIGTTOU] = "TTOU"
	v[syscall.SIGURG] = "URG"
	v[syscall.SIGUSR1] = "USR1"
	v[syscall.SIGUSR2] = "USR2"
	v[syscall.SIGVTALRM] = "VTALRM"
	v[syscall.SIGWINCH] = "WINCH"
	v[syscall.SIGXCPU] = "XCPU"
	v[syscall.SIGXFSZ] = "XFSZ"
	return v
}

func exitStatusOf(pid int, st *os.ProcessState) ExitStatus {
	if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Pid: pid, Code: -1, Signal: signame(ws.Signal())}
	}
	return ExitStatus{Pid: pid, Code: st.ExitCode()}
}

const ipcSupported = true
