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

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotectl/internal/elevation"
	apperrors "remotectl/internal/errors"
	"remotectl/internal/packages"
	"remotectl/internal/processes"
	"remotectl/internal/runner"
	"remotectl/internal/services"
)

const testSecret = "correct-secret"

const fakeHelper = `#!/bin/sh
read -r pw
[ "$pw" = "` + testSecret + `" ] || { echo "sorry, try again" >&2; exit 1; }
[ "$1" = "--" ] && shift
exec "$@"
`

type hostFixture struct {
	registry *Registry
	vault    *elevation.Vault
	now      time.Time
	auth     *countingAuth
}

type countingAuth struct{ accepted, rejected int }

func (c *countingAuth) AuthAttempt(success bool) {
	if success {
		c.accepted++
		return
	}
	c.rejected++
}

// recordingExecutor stands in for the runner behind services and packages.
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
	return runner.Result{Stdout: "done\n", Succeeded: true}, nil
}

type fakeProcesses struct{ killed []processes.KillRequest }

func (f *fakeProcesses) List(context.Context) ([]processes.Info, error) {
	return []processes.Info{{PID: 1, Name: "init"}, {PID: 2, Name: "kthreadd"}}, nil
}

func (f *fakeProcesses) Info(_ context.Context, pid int32) (processes.Info, error) {
	return processes.Info{PID: pid, Name: "sleep"}, nil
}

func (f *fakeProcesses) Kill(_ context.Context, req processes.KillRequest) (processes.KillResult, error) {
	f.killed = append(f.killed, req)
	return processes.KillResult{Signal: "TERM", PIDs: []int32{42}}, nil
}

func newHostFixture(t *testing.T) (*hostFixture, *recordingExecutor) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	helper := filepath.Join(t.TempDir(), "fake-sudo")
	require.NoError(t, os.WriteFile(helper, []byte(fakeHelper), 0o755))

	f := &hostFixture{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), auth: &countingAuth{}}
	f.vault = elevation.NewVault(runner.HelperProbe([]string{helper}), elevation.Options{
		TTL:    30 * time.Minute,
		Now:    func() time.Time { return f.now },
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = f.vault.Close() })

	gate := elevation.NewGate(f.vault)
	run := runner.New(gate, f.vault, runner.Config{Helper: []string{helper}, Logger: zerolog.Nop()})
	executor := &recordingExecutor{gate: gate}

	f.registry = NewRegistry(Options{Logger: zerolog.Nop()})
	t.Cleanup(f.registry.Close)
	host := &Host{
		Sessions: f.vault,
		Runner:   run,
		Services: services.NewController(executor),
		Packages: packages.NewAdapter(executor, packages.Config{
			LookPath: func(file string) (string, error) {
				if file == "apt" {
					return "/usr/bin/apt", nil
				}
				return "", exec.ErrNotFound
			},
		}),
		Processes: &fakeProcesses{},
		Filter:    DefaultOutputFilterConfig(),
		Auth:      f.auth,
		Logger:    zerolog.Nop(),
	}
	require.NoError(t, f.registry.RegisterPlugin(host))
	return f, executor
}

func (f *hostFixture) call(t *testing.T, name string, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	result := f.registry.Execute(name, args)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Result), &payload), result.Result)
	return payload, result.Error
}

func TestHostRegistersAllTools(t *testing.T) {
	f, _ := newHostFixture(t)
	assert.Equal(t, []string{
		"authenticate",
		"execute_command",
		"package_management",
		"process_management",
		"revoke_session",
		"service_control",
		"session_status",
	}, f.registry.GetToolNames())
}

func TestHostPartialRegistration(t *testing.T) {
	r := NewRegistry(Options{Logger: zerolog.Nop()})
	defer r.Close()
	require.NoError(t, r.RegisterPlugin(&Host{Processes: &fakeProcesses{}}))
	assert.Equal(t, []string{"process_management"}, r.GetToolNames())
}

func TestAuthenticateSuccess(t *testing.T) {
	f, _ := newHostFixture(t)

	payload, err := f.call(t, "authenticate", map[string]interface{}{"secret": testSecret})
	require.NoError(t, err)
	assert.Equal(t, true, payload["authenticated"])
	assert.Contains(t, payload["message"], "successful")
	assert.NotContains(t, payload["message"], testSecret)
	assert.NotEmpty(t, payload["expires_at"])
	assert.True(t, f.vault.IsValid())
	assert.Equal(t, 1, f.auth.accepted)
}

func TestAuthenticateFailure(t *testing.T) {
	f, _ := newHostFixture(t)

	payload, err := f.call(t, "authenticate", map[string]interface{}{"secret": "wrong"})
	assert.Equal(t, apperrors.CodeAuthenticationFailed, apperrors.CodeOf(err))
	body := payload["error"].(map[string]interface{})
	assert.Equal(t, "authentication_failed", body["kind"])
	assert.NotContains(t, body["message"], "wrong")
	assert.False(t, f.vault.IsValid())
	assert.Equal(t, 1, f.auth.rejected)

	_, err = f.call(t, "authenticate", map[string]interface{}{})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestExecuteCommandUnelevated(t *testing.T) {
	f, _ := newHostFixture(t)

	payload, err := f.call(t, "execute_command", map[string]interface{}{"command": "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", payload["stdout"])
	assert.Equal(t, float64(0), payload["exit_code"])
	assert.Equal(t, true, payload["succeeded"])
}

func TestExecuteCommandElevatedWithoutSession(t *testing.T) {
	f, _ := newHostFixture(t)
	marker := filepath.Join(t.TempDir(), "marker")

	payload, err := f.call(t, "execute_command", map[string]interface{}{
		"command": "touch " + marker,
		"elevate": true,
	})
	assert.Equal(t, apperrors.CodePrivilegeDenied, apperrors.CodeOf(err))
	body := payload["error"].(map[string]interface{})
	assert.Equal(t, "privilege_denied", body["kind"])
	assert.Contains(t, body["message"], "authenticate")
	assert.NoFileExists(t, marker)
}

func TestExecuteCommandElevatedWithSession(t *testing.T) {
	f, _ := newHostFixture(t)
	_, err := f.call(t, "authenticate", map[string]interface{}{"secret": testSecret})
	require.NoError(t, err)

	payload, err := f.call(t, "execute_command", map[string]interface{}{
		"command": "echo elevated; exit 4",
		"elevate": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "elevated\n", payload["stdout"])
	assert.Equal(t, float64(4), payload["exit_code"])
	assert.Equal(t, false, payload["succeeded"])
}

func TestServiceControlStatusUngated(t *testing.T) {
	f, executor := newHostFixture(t)

	payload, err := f.call(t, "service_control", map[string]interface{}{"action": "status", "service_name": "nginx"})
	require.NoError(t, err)
	assert.Equal(t, true, payload["succeeded"])
	assert.Equal(t, "done\n", payload["output"])
	assert.Equal(t, [][]string{{"systemctl", "--no-pager", "status", "nginx"}}, executor.argv)
}

func TestServiceControlRestartAfterExpiry(t *testing.T) {
	f, executor := newHostFixture(t)
	_, err := f.call(t, "authenticate", map[string]interface{}{"secret": testSecret})
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)
	_, err = f.call(t, "service_control", map[string]interface{}{"action": "restart", "service_name": "foo"})
	assert.Equal(t, apperrors.CodePrivilegeDenied, apperrors.CodeOf(err))
	assert.Empty(t, executor.argv)
}

func TestPackageManagementInstall(t *testing.T) {
	f, executor := newHostFixture(t)
	_, err := f.call(t, "authenticate", map[string]interface{}{"secret": testSecret})
	require.NoError(t, err)

	payload, err := f.call(t, "package_management", map[string]interface{}{"action": "install", "package_name": "htop"})
	require.NoError(t, err)
	assert.Equal(t, "apt", payload["manager"])
	assert.Equal(t, true, payload["succeeded"])
	assert.Equal(t, [][]string{{"apt", "install", "-y", "htop"}}, executor.argv)
}

func TestPackageManagementInstallWithoutSession(t *testing.T) {
	f, executor := newHostFixture(t)

	_, err := f.call(t, "package_management", map[string]interface{}{"action": "install", "package_name": "htop"})
	assert.Equal(t, apperrors.CodePrivilegeDenied, apperrors.CodeOf(err))

	_, err = f.call(t, "package_management", map[string]interface{}{"action": "search", "package_name": "htop"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"apt", "search", "htop"}}, executor.argv)
}

func TestSessionStatusAndRevoke(t *testing.T) {
	f, _ := newHostFixture(t)

	payload, err := f.call(t, "session_status", nil)
	require.NoError(t, err)
	assert.Equal(t, false, payload["valid"])

	_, err = f.call(t, "authenticate", map[string]interface{}{"secret": testSecret})
	require.NoError(t, err)
	payload, err = f.call(t, "session_status", nil)
	require.NoError(t, err)
	assert.Equal(t, true, payload["valid"])
	assert.Equal(t, float64(1800), payload["remaining_seconds"])

	payload, err = f.call(t, "revoke_session", nil)
	require.NoError(t, err)
	assert.Equal(t, "Elevation session revoked", payload["message"])
	assert.False(t, f.vault.IsValid())
}

func TestProcessManagement(t *testing.T) {
	f, _ := newHostFixture(t)

	payload, err := f.call(t, "process_management", map[string]interface{}{"action": "list"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), payload["count"])

	payload, err = f.call(t, "process_management", map[string]interface{}{"action": "info", "process": "42"})
	require.NoError(t, err)
	assert.Equal(t, "sleep", payload["name"])

	_, err = f.call(t, "process_management", map[string]interface{}{"action": "info", "process": "sleep"})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	payload, err = f.call(t, "process_management", map[string]interface{}{"action": "kill", "process": "sleep", "signal": "KILL"})
	require.NoError(t, err)
	assert.Equal(t, "TERM", payload["signal"])

	_, err = f.call(t, "process_management", map[string]interface{}{"action": "explode"})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

type floodRunner struct{}

func (floodRunner) Run(context.Context, runner.Instruction, runner.Options) (runner.Result, error) {
	return runner.Result{Stdout: strings.Repeat("a", defaultMaxOutputChars+500), Succeeded: true}, nil
}

func TestHostZeroFilterUsesDefaultCap(t *testing.T) {
	r := NewRegistry(Options{Logger: zerolog.Nop()})
	defer r.Close()
	require.NoError(t, r.RegisterPlugin(&Host{Runner: floodRunner{}, Logger: zerolog.Nop()}))

	result := r.Execute("execute_command", map[string]interface{}{"command": "yes"})
	require.NoError(t, result.Error)
	var payload commandPayload
	require.NoError(t, json.Unmarshal([]byte(result.Result), &payload))
	assert.Len(t, payload.Stdout, defaultMaxOutputChars)
	assert.True(t, payload.Truncated)
}

type stubSessions struct {
	accept  bool
	revoked bool
}

func (s *stubSessions) Authenticate(context.Context, []byte) bool { return s.accept }
func (s *stubSessions) Status() elevation.SessionStatus { return elevation.SessionStatus{Valid: s.accept} }
func (s *stubSessions) Revoke() { s.revoked = true }
func (s *stubSessions) TTL() time.Duration { return 30 * time.Minute }

func TestHostLogsSessionEvents(t *testing.T) {
	var logs bytes.Buffer
	sessions := &stubSessions{}
	r := NewRegistry(Options{Logger: zerolog.Nop()})
	defer r.Close()
	require.NoError(t, r.RegisterPlugin(&Host{Sessions: sessions, Logger: zerolog.New(&logs)}))

	require.Error(t, r.Execute("authenticate", map[string]interface{}{"secret": "guess-one"}).Error)
	sessions.accept = true
	require.NoError(t, r.Execute("authenticate", map[string]interface{}{"secret": testSecret}).Error)
	require.NoError(t, r.Execute("revoke_session", nil).Error)

	out := logs.String()
	assert.Contains(t, out, "Elevation authentication rejected")
	assert.Contains(t, out, "Elevation session established")
	assert.Contains(t, out, "Elevation session revoked")
	assert.NotContains(t, out, "guess-one")
	assert.NotContains(t, out, testSecret)
	assert.True(t, sessions.revoked)
}
