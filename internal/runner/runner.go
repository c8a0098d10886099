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

package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"remotectl/internal/elevation"
	apperrors "remotectl/internal/errors"
	"remotectl/internal/paths"
)

// DefaultHelper runs the instruction through sudo, reading the password from
// stdin (-S) with an empty prompt and ignoring any cached sudo timestamp (-k)
// so that authority always comes from the vault.
var DefaultHelper = []string{"sudo", "-S", "-k", "-p", ""}

const (
	maxPathLength   = 4096
	cancelWaitDelay = 5 * time.Second
)

// Command outcomes reported to an Observer.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeDenied     = "denied"
	OutcomeInfraError = "infra_error"
	OutcomeTimeout    = "timeout"
	OutcomeCanceled   = "canceled"
)

// Result is the captured outcome of an instruction that was started. A
// nonzero ExitCode is data, not an error.
type Result struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Succeeded bool   `json:"succeeded"`
}

// Options controls a single Run.
type Options struct {
	Elevate bool
	Workdir string
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// Authorizer decides whether an elevated run may proceed.
type Authorizer interface {
	Check(requiresElevation bool) elevation.Decision
}

// SecretSource wires the cached secret into the elevation helper's stdin.
type SecretSource interface {
	AttachStdin(cmd *exec.Cmd) (release func(), err error)
}

// Observer is told about every finished Run.
type Observer interface {
	CommandFinished(elevated bool, outcome string, duration time.Duration)
}

// Config configures a Runner.
type Config struct {
	// Helper is the elevation helper argv; "--" and the instruction are appended.
	Helper []string
	// Timeout bounds each run. Zero leaves runs unbounded.
	Timeout          time.Duration
	WorkdirWhitelist []string
	Logger           zerolog.Logger
	Observer         Observer
}

// Runner executes instructions, optionally under elevation.
type Runner struct {
	gate      Authorizer
	secrets   SecretSource
	helper    []string
	timeout   time.Duration
	whitelist []string
	logger    zerolog.Logger
	observer  Observer
}

// New returns a runner that consults gate and secrets for elevated runs only.
func New(gate Authorizer, secrets SecretSource, cfg Config) *Runner {
	helper := cfg.Helper
	if len(helper) == 0 {
		helper = DefaultHelper
	}
	return &Runner{
		gate:      gate,
		secrets:   secrets,
		helper:    append([]string{}, helper...),
		timeout:   cfg.Timeout,
		whitelist: append([]string{}, cfg.WorkdirWhitelist...),
		logger:    cfg.Logger,
		observer:  cfg.Observer,
	}
}

// Helper returns a copy of the elevation helper argv.
func (r *Runner) Helper() []string {
	return append([]string{}, r.helper...)
}

// Run executes inst and captures its output. It returns a privilege_denied
// error without starting anything when opts.Elevate is set and the gate
// refuses, and an execution_infra_failure error when the instruction or the
// helper cannot be started. Unelevated runs never touch the gate or the vault.
func (r *Runner) Run(ctx context.Context, inst Instruction, opts Options) (Result, error) {
	start := time.Now()
	if len(inst.Argv) == 0 || strings.TrimSpace(inst.Argv[0]) == "" {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "instruction cannot be empty")
	}

	if opts.Elevate {
		if r.gate == nil || r.secrets == nil {
			r.finish(true, OutcomeDenied, start)
			return Result{}, elevation.ErrSessionInvalid
		}
		if decision := r.gate.Check(true); !decision.Allowed {
			r.logger.Warn().
				Str("instruction", inst.String()).
				Str("reason", decision.Reason).
				Msg("Elevated execution denied")
			r.finish(true, OutcomeDenied, start)
			return Result{}, decision.Err()
		}
	}

	dir, err := r.resolveWorkdir(opts.Workdir)
	if err != nil {
		r.finish(opts.Elevate, OutcomeInfraError, start)
		return Result{}, err
	}

	timeout := r.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := inst.Argv
	if opts.Elevate {
		argv = make([]string, 0, len(r.helper)+1+len(inst.Argv))
		argv = append(argv, r.helper...)
		argv = append(argv, "--")
		argv = append(argv, inst.Argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = cancelWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if opts.Elevate {
		release, err := r.secrets.AttachStdin(cmd)
		if err != nil {
			r.logger.Warn().Str("instruction", inst.String()).Msg("Elevation session expired before execution")
			r.finish(true, OutcomeDenied, start)
			return Result{}, err
		}
		defer release()
	}

	r.logger.Debug().
		Str("instruction", inst.String()).
		Bool("elevated", opts.Elevate).
		Str("workdir", dir).
		Msg("Starting command")

	if err := cmd.Start(); err != nil {
		r.finish(opts.Elevate, OutcomeInfraError, start)
		if opts.Elevate {
			return Result{}, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to start elevation helper "+r.helper[0], err)
		}
		return Result{}, apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to start "+inst.Argv[0], err)
	}

	waitErr := cmd.Wait()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	result.Succeeded = result.ExitCode == 0

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.finish(opts.Elevate, OutcomeTimeout, start)
		return result, apperrors.Wrap(apperrors.CodeTimeout, "command timed out after "+timeout.String(), ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		r.finish(opts.Elevate, OutcomeCanceled, start)
		return result, apperrors.Wrap(apperrors.CodeToolExecution, "command canceled", ctx.Err())
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		r.finish(opts.Elevate, OutcomeInfraError, start)
		return result, apperrors.Wrap(apperrors.CodeExecutionInfra, "command I/O failed", waitErr)
	}

	outcome := OutcomeSucceeded
	if !result.Succeeded {
		outcome = OutcomeFailed
	}
	r.finish(opts.Elevate, outcome, start)

	event := r.logger.Debug()
	if opts.Elevate {
		event = r.logger.Info()
	}
	event.
		Str("instruction", inst.String()).
		Bool("elevated", opts.Elevate).
		Int("exit_code", result.ExitCode).
		Dur("duration_ms", time.Since(start)).
		Msg("Command finished")

	return result, nil
}

func (r *Runner) resolveWorkdir(workdir string) (string, error) {
	if workdir == "" {
		return "", nil
	}
	if err := paths.ValidatePathString(workdir, maxPathLength); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid working directory", err)
	}
	resolved, err := paths.ResolveDirectory(workdir)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeExecutionInfra, "working directory unavailable", err)
	}
	if len(r.whitelist) == 0 {
		return resolved, nil
	}
	base, err := os.Getwd()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to determine working directory", err)
	}
	ok, err := paths.WithinWhitelist(resolved, r.whitelist, base)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeExecutionInfra, "failed to resolve workdir whitelist", err)
	}
	if !ok {
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "working directory %s is outside the allowed roots", resolved)
	}
	return resolved, nil
}

func (r *Runner) finish(elevated bool, outcome string, start time.Time) {
	if r.observer != nil {
		r.observer.CommandFinished(elevated, outcome, time.Since(start))
	}
}
