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
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remotectl/internal/elevation"
	apperrors "remotectl/internal/errors"
	"remotectl/internal/packages"
	"remotectl/internal/processes"
	"remotectl/internal/runner"
)

const hostToolVersion = "1.0.0"

// SessionManager is the part of the vault the tools may touch.
type SessionManager interface {
	Authenticate(ctx context.Context, secret []byte) bool
	Status() elevation.SessionStatus
	Revoke()
	TTL() time.Duration
}

// CommandRunner executes instructions.
type CommandRunner interface {
	Run(ctx context.Context, inst runner.Instruction, opts runner.Options) (runner.Result, error)
}

// ServiceController drives system services.
type ServiceController interface {
	Control(ctx context.Context, action, name string) (runner.Result, error)
}

// PackageManager runs package actions.
type PackageManager interface {
	Manage(ctx context.Context, action, pkg string) (packages.Result, error)
}

// ProcessManager lists and signals processes.
type ProcessManager interface {
	List(ctx context.Context) ([]processes.Info, error)
	Info(ctx context.Context, pid int32) (processes.Info, error)
	Kill(ctx context.Context, req processes.KillRequest) (processes.KillResult, error)
}

// AuthObserver is told about every authentication attempt.
type AuthObserver interface {
	AuthAttempt(success bool)
}

// Host is the plugin bundling the host-control tools. Nil collaborators
// leave their tools unregistered.
type Host struct {
	Sessions  SessionManager
	Runner    CommandRunner
	Services  ServiceController
	Packages  PackageManager
	Processes ProcessManager
	Filter    OutputFilterConfig
	Auth      AuthObserver
	Logger    zerolog.Logger
}

// filter returns Filter with an unset size cap replaced by the default.
func (h *Host) filter() OutputFilterConfig {
	return normalizeOutputFilterConfig(h.Filter)
}

type authenticateArgs struct {
	Secret string `json:"secret" jsonschema:"description=Password accepted by the elevation helper. It is never echoed or logged.,minLength=1" validate:"required"`
}

type executeCommandArgs struct {
	Command string `json:"command" jsonschema:"description=Command text run by /bin/sh -c,minLength=1" validate:"required"`
	Elevate bool   `json:"elevate,omitempty" jsonschema:"description=Run through the elevation helper. Requires a valid session from authenticate."`
	Workdir string `json:"workdir,omitempty" jsonschema:"description=Working directory for the command"`
}

type serviceControlArgs struct {
	Action      string `json:"action" jsonschema:"enum=start,enum=stop,enum=restart,enum=enable,enum=disable,enum=status,description=systemctl action. Everything except status requires a valid session." validate:"required"`
	ServiceName string `json:"service_name" jsonschema:"description=Unit name such as nginx or ssh.service,minLength=1" validate:"required"`
}

type packageManagementArgs struct {
	Action      string `json:"action" jsonschema:"enum=install,enum=remove,enum=update,enum=search,enum=list,description=Package action. install/remove/update require a valid session." validate:"required"`
	PackageName string `json:"package_name,omitempty" jsonschema:"description=Package name (required for install/remove/search)"`
}

type processManagementArgs struct {
	Action  string `json:"action" jsonschema:"enum=list,enum=info,enum=kill,description=Process action" validate:"required,oneof=list info kill"`
	Process string `json:"process,omitempty" jsonschema:"description=PID for info; PID or exact process name for kill"`
	Signal  string `json:"signal,omitempty" jsonschema:"description=Signal name or number for kill (default TERM)"`
	Elevate bool   `json:"elevate,omitempty" jsonschema:"description=Send the signal through the elevation helper"`
}

func noParameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Name implements ToolPlugin.
func (h *Host) Name() string { return "host" }

// Version implements ToolPlugin.
func (h *Host) Version() string { return hostToolVersion }

// Tools implements ToolPlugin.
func (h *Host) Tools() []Tool {
	var list []Tool
	if h.Sessions != nil {
		list = append(list,
			&ToolDefinition{
				NameValue:        "authenticate",
				DescriptionValue: "Establish an elevation session by validating the elevation password. The session stays valid for a fixed window; call again when elevated tools report an expired session.",
				ParametersValue:  mustSchemaParametersFor[authenticateArgs](),
				ExecuteFunc:      h.authenticate,
				ValidateFunc:     structValidation[authenticateArgs](),
				VersionValue:     hostToolVersion,
			},
			&ToolDefinition{
				NameValue:        "session_status",
				DescriptionValue: "Report whether an elevation session is active and when it expires",
				ParametersValue:  noParameters(),
				ExecuteFunc:      h.sessionStatus,
				VersionValue:     hostToolVersion,
			},
			&ToolDefinition{
				NameValue:        "revoke_session",
				DescriptionValue: "End the elevation session immediately and wipe the cached password",
				ParametersValue:  noParameters(),
				ExecuteFunc:      h.revokeSession,
				VersionValue:     hostToolVersion,
			},
		)
	}
	if h.Runner != nil {
		list = append(list, &ToolDefinition{
			NameValue:        "execute_command",
			DescriptionValue: "Run a shell command and return stdout, stderr and the exit code. Set elevate to run it with elevated privileges.",
			ParametersValue:  mustSchemaParametersFor[executeCommandArgs](),
			ExecuteFunc:      h.executeCommand,
			ValidateFunc: ChainValidation(
				RequireStringArg("command", "missing or invalid 'command' parameter"),
				OptionalBoolArg("elevate"),
				OptionalStringArg("workdir"),
			),
			VersionValue: hostToolVersion,
		})
	}
	if h.Services != nil {
		list = append(list, &ToolDefinition{
			NameValue:        "service_control",
			DescriptionValue: "Start, stop, restart, enable, disable or query a system service",
			ParametersValue:  mustSchemaParametersFor[serviceControlArgs](),
			ExecuteFunc:      h.serviceControl,
			ValidateFunc:     structValidation[serviceControlArgs](),
			VersionValue:     hostToolVersion,
		})
	}
	if h.Packages != nil {
		list = append(list, &ToolDefinition{
			NameValue:        "package_management",
			DescriptionValue: "Install, remove, update, search or list packages with the detected package manager",
			ParametersValue:  mustSchemaParametersFor[packageManagementArgs](),
			ExecuteFunc:      h.packageManagement,
			ValidateFunc:     structValidation[packageManagementArgs](),
			VersionValue:     hostToolVersion,
		})
	}
	if h.Processes != nil {
		list = append(list, &ToolDefinition{
			NameValue:        "process_management",
			DescriptionValue: "List processes, inspect one process, or send a signal to a process by PID or name",
			ParametersValue:  mustSchemaParametersFor[processManagementArgs](),
			ExecuteFunc:      h.processManagement,
			ValidateFunc:     structValidation[processManagementArgs](),
			VersionValue:     hostToolVersion,
		})
	}
	return list
}

type authenticatePayload struct {
	Message       string     `json:"message"`
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (h *Host) authenticate(ctx context.Context, args map[string]interface{}) (string, error) {
	parsed, err := decodeArgs[authenticateArgs](args)
	if err != nil {
		return "", err
	}
	secret := []byte(parsed.Secret)
	defer clear(secret)

	ok := h.Sessions.Authenticate(ctx, secret)
	if h.Auth != nil {
		h.Auth.AuthAttempt(ok)
	}
	if !ok {
		h.Logger.Warn().Msg("Elevation authentication rejected")
		return "", apperrors.New(apperrors.CodeAuthenticationFailed,
			"authentication failed: the elevation helper rejected the password or did not answer in time")
	}

	status := h.Sessions.Status()
	h.Logger.Info().Dur("ttl", h.Sessions.TTL()).Msg("Elevation session established")
	return MarshalPayload(authenticatePayload{
		Message:       fmt.Sprintf("Authentication successful; elevation session valid for %s", h.Sessions.TTL()),
		Authenticated: true,
		ExpiresAt:     status.ExpiresAt,
	})
}

func (h *Host) sessionStatus(ctx context.Context, args map[string]interface{}) (string, error) {
	return MarshalPayload(h.Sessions.Status())
}

func (h *Host) revokeSession(ctx context.Context, args map[string]interface{}) (string, error) {
	h.Sessions.Revoke()
	h.Logger.Info().Msg("Elevation session revoked")
	return MarshalPayload(map[string]string{"message": "Elevation session revoked"})
}

type commandPayload struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Succeeded bool   `json:"succeeded"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (h *Host) executeCommand(ctx context.Context, args map[string]interface{}) (string, error) {
	parsed, err := decodeArgs[executeCommandArgs](args)
	if err != nil {
		return "", err
	}
	result, err := h.Runner.Run(ctx, runner.Shell(parsed.Command), runner.Options{
		Elevate: parsed.Elevate,
		Workdir: parsed.Workdir,
	})
	if err != nil {
		return "", err
	}
	stdout, cutOut := h.filter().Apply(result.Stdout)
	stderr, cutErr := h.filter().Apply(result.Stderr)
	return MarshalPayload(commandPayload{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  result.ExitCode,
		Succeeded: result.Succeeded,
		Truncated: cutOut || cutErr,
	})
}

type servicePayload struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output"`
	Error     string `json:"error"`
	ExitCode  int    `json:"exit_code"`
}

func (h *Host) serviceControl(ctx context.Context, args map[string]interface{}) (string, error) {
	parsed, err := decodeArgs[serviceControlArgs](args)
	if err != nil {
		return "", err
	}
	result, err := h.Services.Control(ctx, parsed.Action, parsed.ServiceName)
	if err != nil {
		return "", err
	}
	output, _ := h.filter().Apply(result.Stdout)
	stderr, _ := h.filter().Apply(result.Stderr)
	return MarshalPayload(servicePayload{
		Succeeded: result.Succeeded,
		Output:    output,
		Error:     stderr,
		ExitCode:  result.ExitCode,
	})
}

type packagePayload struct {
	Succeeded bool          `json:"succeeded"`
	Output    string        `json:"output"`
	Error     string        `json:"error"`
	ExitCode  int           `json:"exit_code"`
	Manager   packages.Kind `json:"manager"`
	Truncated bool          `json:"truncated,omitempty"`
}

func (h *Host) packageManagement(ctx context.Context, args map[string]interface{}) (string, error) {
	parsed, err := decodeArgs[packageManagementArgs](args)
	if err != nil {
		return "", err
	}
	result, err := h.Packages.Manage(ctx, parsed.Action, parsed.PackageName)
	if err != nil {
		return "", err
	}
	output, cut := h.filter().Apply(result.Stdout)
	stderr, _ := h.filter().Apply(result.Stderr)
	return MarshalPayload(packagePayload{
		Succeeded: result.Succeeded,
		Output:    output,
		Error:     stderr,
		ExitCode:  result.ExitCode,
		Manager:   result.Manager,
		Truncated: result.Truncated || cut,
	})
}

func (h *Host) processManagement(ctx context.Context, args map[string]interface{}) (string, error) {
	parsed, err := decodeArgs[processManagementArgs](args)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(parsed.Action) {
	case "list":
		infos, err := h.Processes.List(ctx)
		if err != nil {
			return "", err
		}
		return MarshalPayload(map[string]interface{}{"processes": infos, "count": len(infos)})
	case "info":
		pid, err := strconv.ParseInt(strings.TrimSpace(parsed.Process), 10, 32)
		if err != nil {
			return "", apperrors.Newf(apperrors.CodeInvalidArgument, "'process' must be a pid for info, got %q", parsed.Process)
		}
		info, err := h.Processes.Info(ctx, int32(pid))
		if err != nil {
			return "", err
		}
		return MarshalPayload(info)
	default:
		result, err := h.Processes.Kill(ctx, processes.KillRequest{
			Target:  parsed.Process,
			Signal:  parsed.Signal,
			Elevate: parsed.Elevate,
		})
		if err != nil {
			return "", err
		}
		h.Logger.Info().
			Str("target", parsed.Process).
			Bool("elevated", parsed.Elevate).
			Msg("Signal sent")
		return MarshalPayload(result)
	}
}
