// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import "io"

// Syscall numbers, passed in R0.
const (
	SyscallExit  uint64 = 0 // exit(code in R1)
	SyscallWrite uint64 = 1 // write(fd in R1, buf in R2, count in R3)
)

// SyscallError is the all-ones value written to R0 when a syscall fails.
const SyscallError = ^uint64(0)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall terminates the core.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Return is the value written back to R0 when Exited is false.
	Return uint64
}

// SyscallHandler services the syscall instruction. Arguments are the
// values of R0 to R3.
type SyscallHandler interface {
	Handle(lsu *LoadStoreUnit, args [4]uint64) SyscallResult
}

// DefaultSyscallHandler implements exit and write to stdout or stderr.
type DefaultSyscallHandler struct {
	stdout io.Writer
	stderr io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler. Nil writers
// discard output.
func NewDefaultSyscallHandler(stdout, stderr io.Writer) *DefaultSyscallHandler {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &DefaultSyscallHandler{stdout: stdout, stderr: stderr}
}

// Handle dispatches on the syscall number in args[0].
func (h *DefaultSyscallHandler) Handle(lsu *LoadStoreUnit, args [4]uint64) SyscallResult {
	switch args[0] {
	case SyscallExit:
		return SyscallResult{Exited: true, ExitCode: int64(args[1])}
	case SyscallWrite:
		return h.handleWrite(lsu, args[1], args[2], args[3])
	}
	return SyscallResult{Return: SyscallError}
}

func (h *DefaultSyscallHandler) handleWrite(lsu *LoadStoreUnit, fd, buf, count uint64) SyscallResult {
	var w io.Writer
	switch fd {
	case 1:
		w = h.stdout
	case 2:
		w = h.stderr
	default:
		return SyscallResult{Return: SyscallError}
	}

	n, err := w.Write(lsu.LoadBytes(buf, int(min(count, 1<<20))))
	if err != nil {
		return SyscallResult{Return: SyscallError}
	}
	return SyscallResult{Return: uint64(n)}
}
