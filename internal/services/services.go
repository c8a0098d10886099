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

// Package services drives systemd units through systemctl.
package services

import (
	"context"
	"regexp"
	"strings"

	apperrors "remotectl/internal/errors"
	"remotectl/internal/runner"
)

// Action is a systemctl verb.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionStatus  Action = "status"
)

// Actions lists every supported action in the order they are documented.
var Actions = []Action{ActionStart, ActionStop, ActionRestart, ActionEnable, ActionDisable, ActionStatus}

const maxServiceNameLength = 256

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9@._:-]*$`)

// Executor runs an instruction, elevated when requested.
type Executor interface {
	Run(ctx context.Context, inst runner.Instruction, opts runner.Options) (runner.Result, error)
}

// Controller maps service actions onto systemctl invocations.
type Controller struct {
	exec    Executor
	binary  string
	noPager bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithBinary overrides the systemctl binary.
func WithBinary(path string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(path) != "" {
			c.binary = path
		}
	}
}

// NewController returns a controller that runs systemctl through executor.
func NewController(executor Executor, opts ...Option) *Controller {
	c := &Controller{exec: executor, binary: "systemctl", noPager: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Actions {
		if action == known {
			return action, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeInvalidArgument, "unknown service action %q", raw)
}

// RequiresElevation reports whether action changes system state.
func (a Action) RequiresElevation() bool {
	return a != ActionStatus
}

// ValidateName rejects empty names, option-like names and characters
// outside the systemd unit charset.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return apperrors.New(apperrors.CodeInvalidArgument, "service name is required")
	case len(name) > maxServiceNameLength:
		return apperrors.New(apperrors.CodeInvalidArgument, "service name is too long")
	case strings.HasPrefix(name, "-"):
		return apperrors.Newf(apperrors.CodeInvalidArgument, "service name %q cannot start with '-'", name)
	case !serviceNamePattern.MatchString(name):
		return apperrors.Newf(apperrors.CodeInvalidArgument, "service name %q contains invalid characters", name)
	}
	return nil
}

// Control runs `systemctl <action> <name>`. Arguments are validated before
// the privilege gate is consulted, so a malformed request never reports a
// privilege denial. status runs unelevated; every other action is gated.
func (c *Controller) Control(ctx context.Context, rawAction, name string) (runner.Result, error) {
	action, err := ParseAction(rawAction)
	if err != nil {
		return runner.Result{}, err
	}
	if err := ValidateName(name); err != nil {
		return runner.Result{}, err
	}
	return c.exec.Run(ctx, c.instruction(action, name), runner.Options{Elevate: action.RequiresElevation()})
}

func (c *Controller) instruction(action Action, name string) runner.Instruction {
	args := make([]string, 0, 3)
	if action == ActionStatus && c.noPager {
		args = append(args, "--no-pager")
	}
	args = append(args, string(action), name)
	return runner.Command(c.binary, args...)
}
