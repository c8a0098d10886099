// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package processes lists and signals host processes. Unelevated signals go
// straight to the kernel; elevated ones go through the gated runner.
package processes

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	apperrors "remotectl/internal/errors"
	"remotectl/internal/runner"
)

// DefaultListLimit caps List output.
const DefaultListLimit = 50

// System call wrappers for testing
var (
	allProcesses = process.ProcessesWithContext
	newProcess   = process.NewProcessWithContext
)

// Info describes one process.
type Info struct {
	PID           int32    `json:"pid"`
	PPID          int32    `json:"ppid,omitempty"`
	Name          string   `json:"name"`
	Username      string   `json:"username,omitempty"`
	Status        []string `json:"status,omitempty"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float32  `json:"memory_percent"`
	Cmdline       string   `json:"cmdline,omitempty"`
	CreateTime    int64    `json:"create_time_ms,omitempty"`
}

// KillRequest names the processes to signal. Target is a pid or a process name.
type KillRequest struct {
	Target  string
	Signal  string
	Elevate bool
}

// KillResult reports which processes were signalled.
type KillResult struct {
	Signal   string         `json:"signal"`
	PIDs     []int32        `json:"pids"`
	Elevated bool           `json:"elevated"`
	Result   *runner.Result `json:"result,omitempty"`
}

// Executor runs an instruction, elevated when requested.
type Executor interface {
	Run(ctx context.Context, inst runner.Instruction, opts runner.Options) (runner.Result, error)
}

// Manager inspects and signals processes.
type Manager struct {
	exec  Executor
	limit int
	self  int32
}

// NewManager returns a manager that sends elevated signals through executor.
// A non-positive limit means DefaultListLimit.
func NewManager(executor Executor, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &Manager{exec: executor, limit: limit, self: int32(os.Getpid())}
}

// List returns up to the configured limit of processes, lowest pid first.
// Processes that exit while being inspected are skipped.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	procs, err := allProcesses(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to enumerate processes", err)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })

	infos := make([]Info, 0, min(len(procs), m.limit))
	for _, p := range procs {
		if len(infos) >= m.limit {
			break
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info := Info{PID: p.Pid, Name: name}
		info.CPUPercent, _ = p.CPUPercentWithContext(ctx)
		info.MemoryPercent, _ = p.MemoryPercentWithContext(ctx)
		info.Status, _ = p.StatusWithContext(ctx)
		infos = append(infos, info)
	}
	return infos, nil
}

// Info returns details about a single process.
func (m *Manager) Info(ctx context.Context, pid int32) (Info, error) {
	if pid <= 0 {
		return Info{}, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid pid %d", pid)
	}
	p, err := newProcess(ctx, pid)
	if err != nil {
		return Info{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "process "+strconv.Itoa(int(pid))+" not found", err)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return Info{}, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to inspect process", err)
	}
	info := Info{PID: pid, Name: name}
	info.PPID, _ = p.PpidWithContext(ctx)
	info.Username, _ = p.UsernameWithContext(ctx)
	info.Status, _ = p.StatusWithContext(ctx)
	info.CPUPercent, _ = p.CPUPercentWithContext(ctx)
	info.MemoryPercent, _ = p.MemoryPercentWithContext(ctx)
	info.Cmdline, _ = p.CmdlineWithContext(ctx)
	info.CreateTime, _ = p.CreateTimeWithContext(ctx)
	return info, nil
}

// Kill signals the target. A numeric target is a pid; anything else matches
// process names exactly. Elevated kills run `kill -s SIG pid...` through the
// gated executor and report its result; the caller's own process is never a
// valid target.
func (m *Manager) Kill(ctx context.Context, req KillRequest) (KillResult, error) {
	sig, err := ParseSignal(req.Signal)
	if err != nil {
		return KillResult{}, err
	}
	pids, err := m.resolveTarget(ctx, req.Target)
	if err != nil {
		return KillResult{}, err
	}
	name := strings.TrimPrefix(unix.SignalName(sig), "SIG")
	result := KillResult{Signal: name, PIDs: pids, Elevated: req.Elevate}

	if req.Elevate {
		args := []string{"-s", name}
		for _, pid := range pids {
			args = append(args, strconv.Itoa(int(pid)))
		}
		out, err := m.exec.Run(ctx, runner.Command("kill", args...), runner.Options{Elevate: true})
		if err != nil {
			return KillResult{}, err
		}
		result.Result = &out
		return result, nil
	}

	for _, pid := range pids {
		p, err := newProcess(ctx, pid)
		if err != nil {
			return result, apperrors.Wrap(apperrors.CodeInvalidArgument, "process "+strconv.Itoa(int(pid))+" not found", err)
		}
		if err := p.SendSignalWithContext(ctx, sig); err != nil {
			if errors.Is(err, syscall.EPERM) {
				return result, apperrors.Wrap(apperrors.CodePermission, "not permitted to signal process "+strconv.Itoa(int(pid))+"; retry with elevate", err)
			}
			return result, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to signal process "+strconv.Itoa(int(pid)), err)
		}
	}
	return result, nil
}

func (m *Manager) resolveTarget(ctx context.Context, target string) ([]int32, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "process pid or name is required")
	}

	if n, err := strconv.ParseInt(target, 10, 32); err == nil {
		pid := int32(n)
		if pid <= 0 {
			return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid pid %d", pid)
		}
		if pid == m.self {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "refusing to signal the server process")
		}
		return []int32{pid}, nil
	}

	procs, err := allProcesses(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to enumerate processes", err)
	}
	var pids []int32
	for _, p := range procs {
		if p.Pid == m.self {
			continue
		}
		if name, err := p.NameWithContext(ctx); err == nil && name == target {
			pids = append(pids, p.Pid)
		}
	}
	if len(pids) == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "no process named %q", target)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}

// ParseSignal accepts "TERM", "SIGTERM", "term" or a signal number. Empty
// means SIGTERM.
func ParseSignal(raw string) (syscall.Signal, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return syscall.SIGTERM, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		sig := syscall.Signal(n)
		if n <= 0 || unix.SignalName(sig) == "" {
			return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown signal %q", raw)
		}
		return sig, nil
	}
	if !strings.HasPrefix(raw, "SIG") {
		raw = "SIG" + raw
	}
	sig := unix.SignalNum(raw)
	if sig == 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown signal %q", raw)
	}
	return sig, nil
}
