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

package processes

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotectl/internal/elevation"
	apperrors "remotectl/internal/errors"
	"remotectl/internal/runner"
)

type recordingExecutor struct {
	gate *elevation.Gate
	argv [][]string
}

func (e *recordingExecutor) Run(_ context.Context, inst runner.Instruction, opts runner.Options) (runner.Result, error) {
	if opts.Elevate {
		if decision := e.gate.Check(true); !decision.Allowed {
			return runner.Result{}, decision.Err()
		}
	}
	e.argv = append(e.argv, inst.Argv)
	return runner.Result{Succeeded: true}, nil
}

type validity bool

func (v validity) IsValid() bool { return bool(v) }

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	waitForExec(t, cmd.Process.Pid, "sleep\x0030\x00")
	return cmd
}

// waitForExec blocks until the child has replaced the forked test binary,
// so /proc reports its final name and command line.
func waitForExec(t *testing.T, pid int, cmdline string) {
	t.Helper()
	path := "/proc/" + strconv.Itoa(pid) + "/cmdline"
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == cmdline
	}, 5*time.Second, 10*time.Millisecond, "child %d never exec'd", pid)
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		raw     string
		want    syscall.Signal
		wantErr bool
	}{
		{raw: "", want: syscall.SIGTERM},
		{raw: "TERM", want: syscall.SIGTERM},
		{raw: "sigkill", want: syscall.SIGKILL},
		{raw: " hup ", want: syscall.SIGHUP},
		{raw: "9", want: syscall.SIGKILL},
		{raw: "NOPE", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sig, err := ParseSignal(tt.raw)
			if tt.wantErr {
				assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}
}

func TestListIncludesSelfAndRespectsLimit(t *testing.T) {
	manager := NewManager(nil, 100000)
	infos, err := manager.List(context.Background())
	require.NoError(t, err)

	var found bool
	for i, info := range infos {
		if i > 0 {
			assert.Less(t, infos[i-1].PID, info.PID)
		}
		if info.PID == int32(os.Getpid()) {
			found = true
		}
	}
	assert.True(t, found)

	limited, err := NewManager(nil, 2).List(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(limited), 2)
}

func TestListEnumerationFailure(t *testing.T) {
	original := allProcesses
	allProcesses = func(context.Context) ([]*process.Process, error) {
		return nil, errors.New("proc unavailable")
	}
	t.Cleanup(func() { allProcesses = original })

	_, err := NewManager(nil, 0).List(context.Background())
	assert.Equal(t, apperrors.CodeExecutionInfra, apperrors.CodeOf(err))
}

func TestInfo(t *testing.T) {
	sleeper := startSleeper(t)
	pid := int32(sleeper.Process.Pid)

	var info Info
	require.Eventually(t, func() bool {
		var err error
		info, err = NewManager(nil, 0).Info(context.Background(), pid)
		return err == nil && info.Name == "sleep"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, pid, info.PID)
	assert.Contains(t, info.Cmdline, "sleep 30")

	_, err = NewManager(nil, 0).Info(context.Background(), 0)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestKillUnelevatedByPID(t *testing.T) {
	sleeper := startSleeper(t)
	executor := &recordingExecutor{gate: elevation.NewGate(validity(false))}

	result, err := NewManager(executor, 0).Kill(context.Background(), KillRequest{
		Target: strconv.Itoa(sleeper.Process.Pid),
		Signal: "KILL",
	})
	require.NoError(t, err)
	assert.Equal(t, "KILL", result.Signal)
	assert.Empty(t, executor.argv)

	done := make(chan error, 1)
	go func() { done <- sleeper.Wait() }()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper was not killed")
	}
}

func TestKillElevatedGoesThroughRunner(t *testing.T) {
	executor := &recordingExecutor{gate: elevation.NewGate(validity(true))}

	result, err := NewManager(executor, 0).Kill(context.Background(), KillRequest{
		Target:  "4242",
		Elevate: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Result)
	assert.Equal(t, [][]string{{"kill", "-s", "TERM", "4242"}}, executor.argv)
	assert.True(t, result.Elevated)
}

func TestKillElevatedWithoutSession(t *testing.T) {
	executor := &recordingExecutor{gate: elevation.NewGate(validity(false))}

	_, err := NewManager(executor, 0).Kill(context.Background(), KillRequest{Target: "4242", Elevate: true})
	assert.Equal(t, apperrors.CodePrivilegeDenied, apperrors.CodeOf(err))
	assert.Empty(t, executor.argv)
}

func TestKillRejectsBadTargets(t *testing.T) {
	manager := NewManager(&recordingExecutor{gate: elevation.NewGate(validity(true))}, 0)
	for _, target := range []string{"", "0", "-1", strconv.Itoa(os.Getpid()), "no-such-process-name-xyz"} {
		_, err := manager.Kill(context.Background(), KillRequest{Target: target})
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err), target)
	}
	_, err := manager.Kill(context.Background(), KillRequest{Target: "4242", Signal: "BOGUS"})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}
