/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay wraps the external ffmpeg media-relay child process. It
// knows how to spawn one, capture its stderr into a ring buffer, report
// its exit, and terminate it gracefully. Policy (retries, duration
// limits, status) lives in the supervisor, not here.
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_live/internal/logbuffer"
)

const stopGrace = 5 * time.Second

// Process is one running relay child.
type Process struct {
	streamID string
	logger   zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{} // closed when the process has exited
	exitErr   error
}

// Start spawns the relay binary with the given arguments. Stderr is
// scanned line by line into sink; ffmpeg writes all progress and error
// output there.
func Start(bin, streamID string, args []string, sink *logbuffer.Buffer, logger zerolog.Logger) (*Process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start relay process: %w", err)
	}

	p := &Process{
		streamID:  streamID,
		logger:    logger,
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			if sink != nil {
				sink.Add(scanner.Text())
			}
		}
	}()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
		if err != nil {
			p.logger.Debug().Err(err).Str("stream_id", streamID).Msg("relay process exited")
		} else {
			p.logger.Info().Str("stream_id", streamID).Msg("relay process stopped")
		}
	}()

	return p, nil
}

// PID returns the child's OS process id.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns the spawn instant.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the Wait error. Only meaningful after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Crashed reports whether the exit looks like a crash: killed by a
// signal or a nonzero exit code. A clean zero exit is not a crash.
func (p *Process) Crashed() bool {
	err := p.ExitErr()
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return true
		}
		return exitErr.ExitCode() != 0
	}
	// Wait failed for some other reason; treat as crash.
	return true
}

// Stop terminates the child: interrupt first, then kill after a grace
// period. Safe to call after the process has already exited.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd == nil || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(stopGrace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}

	return nil
}

// PIDAlive reports whether a process with the given pid exists. Signal 0
// performs the existence check without delivering anything.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}

// FindByToken locates external relay processes whose command line
// contains the given token (the stream's endpoint key). Used after an
// application restart to find a child that outlived its supervisor.
func FindByToken(token string) ([]int, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("empty search token")
	}
	out, err := exec.Command("pgrep", "-f", token).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// pgrep exits 1 when nothing matched.
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep: %w", err)
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if pid != os.Getpid() {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Terminate interrupts a process by pid, then kills it if still alive
// after the grace period. Used for orphaned children found by token.
func Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return err
	}
	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !PIDAlive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return proc.Kill()
}
