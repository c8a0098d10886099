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

// Package packages detects the host package manager and maps abstract
// package actions onto its command line.
package packages

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	apperrors "remotectl/internal/errors"
	"remotectl/internal/runner"
)

// Kind names a package manager family.
type Kind string

const (
	KindApt    Kind = "apt"
	KindYum    Kind = "yum"
	KindDnf    Kind = "dnf"
	KindPacman Kind = "pacman"
	KindZypper Kind = "zypper"
	KindNone   Kind = "none"
)

// Action is an abstract package operation.
type Action string

const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionUpdate  Action = "update"
	ActionSearch  Action = "search"
	ActionList    Action = "list"
)

// Actions lists every supported action.
var Actions = []Action{ActionInstall, ActionRemove, ActionUpdate, ActionSearch, ActionList}

// DefaultOutputMaxChars bounds search and list output.
const DefaultOutputMaxChars = 2000

const maxPackageNameLength = 256

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9@._+:~-]*$`)

// probe order; the first binary found wins.
var probes = []struct {
	kind     Kind
	binaries []string
}{
	{kind: KindApt, binaries: []string{"apt", "apt-get"}},
	{kind: KindYum, binaries: []string{"yum"}},
	{kind: KindDnf, binaries: []string{"dnf"}},
	{kind: KindPacman, binaries: []string{"pacman"}},
	{kind: KindZypper, binaries: []string{"zypper"}},
}

type template struct {
	argv        []string
	needsTarget bool
}

// commands maps binary and action to an argv template. The package name is
// appended when needsTarget is set. Managers absent here support no actions.
var commands = map[string]map[Action]template{
	"apt": {
		ActionInstall: {argv: []string{"apt", "install", "-y"}, needsTarget: true},
		ActionRemove:  {argv: []string{"apt", "remove", "-y"}, needsTarget: true},
		ActionUpdate:  {argv: []string{"apt", "update"}},
		ActionSearch:  {argv: []string{"apt", "search"}, needsTarget: true},
		ActionList:    {argv: []string{"apt", "list", "--installed"}},
	},
	"apt-get": {
		ActionInstall: {argv: []string{"apt-get", "install", "-y"}, needsTarget: true},
		ActionRemove:  {argv: []string{"apt-get", "remove", "-y"}, needsTarget: true},
		ActionUpdate:  {argv: []string{"apt-get", "update"}},
		ActionSearch:  {argv: []string{"apt-cache", "search"}, needsTarget: true},
		ActionList:    {argv: []string{"dpkg-query", "-W"}},
	},
	"pacman": {
		ActionInstall: {argv: []string{"pacman", "-S", "--noconfirm"}, needsTarget: true},
		ActionRemove:  {argv: []string{"pacman", "-R", "--noconfirm"}, needsTarget: true},
		ActionUpdate:  {argv: []string{"pacman", "-Syu", "--noconfirm"}},
		ActionSearch:  {argv: []string{"pacman", "-Ss"}, needsTarget: true},
		ActionList:    {argv: []string{"pacman", "-Q"}},
	},
}

// Detection is the outcome of probing the host.
type Detection struct {
	Kind   Kind   `json:"kind"`
	Binary string `json:"binary,omitempty"`
}

// Result is a command result tagged with the manager that produced it.
type Result struct {
	runner.Result
	Manager   Kind `json:"manager"`
	Truncated bool `json:"truncated,omitempty"`
}

// Executor runs an instruction, elevated when requested.
type Executor interface {
	Run(ctx context.Context, inst runner.Instruction, opts runner.Options) (runner.Result, error)
}

// Config configures an Adapter.
type Config struct {
	// OutputMaxChars bounds search and list stdout. Zero means DefaultOutputMaxChars.
	OutputMaxChars int
	// CacheDetection keeps the first detection for the life of the adapter.
	CacheDetection bool
	// LookPath replaces exec.LookPath.
	LookPath func(file string) (string, error)
}

// Adapter runs package actions through the detected manager.
type Adapter struct {
	exec      Executor
	lookPath  func(string) (string, error)
	maxOutput int
	cache     bool

	mu       sync.Mutex
	detected *Detection
}

// NewAdapter returns an adapter that runs commands through executor.
func NewAdapter(executor Executor, cfg Config) *Adapter {
	lookPath := cfg.LookPath
	if lookPath == nil {
		lookPath = execLookPath
	}
	maxOutput := cfg.OutputMaxChars
	if maxOutput <= 0 {
		maxOutput = DefaultOutputMaxChars
	}
	return &Adapter{exec: executor, lookPath: lookPath, maxOutput: maxOutput, cache: cfg.CacheDetection}
}

var execLookPath = exec.LookPath

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Actions {
		if action == known {
			return action, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeInvalidArgument, "unknown package action %q", raw)
}

// RequiresElevation reports whether action changes system state.
func (a Action) RequiresElevation() bool {
	switch a {
	case ActionInstall, ActionRemove, ActionUpdate:
		return true
	}
	return false
}

// Detect probes for a package manager in priority order. Without caching a
// fresh probe runs on every call.
func (a *Adapter) Detect() Detection {
	if a.cache {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.detected != nil {
			return *a.detected
		}
	}

	detection := Detection{Kind: KindNone}
probing:
	for _, probe := range probes {
		for _, binary := range probe.binaries {
			if _, err := a.lookPath(binary); err == nil {
				detection = Detection{Kind: probe.kind, Binary: binary}
				break probing
			}
		}
	}

	if a.cache {
		a.detected = &detection
	}
	return detection
}

// Manage runs action against the detected manager. pkg is required for
// install, remove and search. Argument and detection errors are reported
// before the privilege gate is consulted.
func (a *Adapter) Manage(ctx context.Context, rawAction, pkg string) (Result, error) {
	action, err := ParseAction(rawAction)
	if err != nil {
		return Result{}, err
	}

	detection := a.Detect()
	if detection.Kind == KindNone {
		return Result{Manager: KindNone}, apperrors.New(apperrors.CodePackageManagerNotFound, "no supported package manager found (apt, yum, dnf, pacman, zypper)")
	}

	tmpl, ok := commands[detection.Binary][action]
	if !ok {
		return Result{Manager: detection.Kind}, apperrors.Newf(apperrors.CodeUnsupportedAction, "action %q is not supported for package manager %s", action, detection.Kind)
	}

	argv := append([]string{}, tmpl.argv...)
	if tmpl.needsTarget {
		pkg = strings.TrimSpace(pkg)
		if err := ValidateName(pkg); err != nil {
			return Result{Manager: detection.Kind}, err
		}
		argv = append(argv, pkg)
	}

	out, err := a.exec.Run(ctx, runner.Command(argv[0], argv[1:]...), runner.Options{Elevate: action.RequiresElevation()})
	result := Result{Result: out, Manager: detection.Kind}
	if err != nil {
		return result, err
	}
	if !action.RequiresElevation() {
		result.Stdout, result.Truncated = truncateString(result.Stdout, a.maxOutput)
	}
	return result, nil
}

// ValidateName rejects empty and option-like package names.
func ValidateName(name string) error {
	switch {
	case name == "":
		return apperrors.New(apperrors.CodeInvalidArgument, "package name is required for this action")
	case len(name) > maxPackageNameLength:
		return apperrors.New(apperrors.CodeInvalidArgument, "package name is too long")
	case strings.HasPrefix(name, "-"):
		return apperrors.Newf(apperrors.CodeInvalidArgument, "package name %q cannot start with '-'", name)
	case !packageNamePattern.MatchString(name):
		return apperrors.Newf(apperrors.CodeInvalidArgument, "package name %q contains invalid characters", name)
	}
	return nil
}

func truncateString(input string, max int) (string, bool) {
	if max <= 0 || len(input) <= max {
		return input, false
	}
	runes := []rune(input)
	if len(runes) <= max {
		return input, false
	}
	return string(runes[:max]), true
}
