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

// Package elevation caches proof of elevated authority for a bounded window
// and decides which operations may use it.
package elevation

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "remotectl/internal/errors"
)

const (
	// DefaultTTL is how long a successfully probed secret stays trusted.
	DefaultTTL = 30 * time.Minute
	// DefaultProbeTimeout bounds the probe command run by Authenticate.
	DefaultProbeTimeout = 5 * time.Second
)

// DenyReason is reported whenever an elevated operation is refused.
const DenyReason = "elevation session missing or expired"

// ErrSessionInvalid is returned when the cached secret is absent or stale.
var ErrSessionInvalid = apperrors.New(apperrors.CodePrivilegeDenied, DenyReason+"; call authenticate first")

// Prober validates a candidate secret by running a side-effect-free command
// under elevation. A nil error means the secret was accepted.
type Prober interface {
	Probe(ctx context.Context, secret []byte) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, secret []byte) error

// Probe calls f(ctx, secret).
func (f ProberFunc) Probe(ctx context.Context, secret []byte) error {
	return f(ctx, secret)
}

// Options configures a Vault.
type Options struct {
	TTL          time.Duration
	ProbeTimeout time.Duration
	// WipeOnExpiry zeroes the secret as soon as the ttl elapses instead of
	// leaving it resident until the next Authenticate.
	WipeOnExpiry bool
	Logger       zerolog.Logger
	Now          func() time.Time
}

// SessionStatus is everything about the vault that may leave it.
type SessionStatus struct {
	Valid      bool       `json:"valid"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Remaining  float64    `json:"remaining_seconds"`
}

type credential struct {
	secret     *secretBuffer
	acquiredAt time.Time
}

// Vault holds at most one elevation secret together with the time it was
// acquired. All access to the credential goes through mu.
type Vault struct {
	mu     sync.Mutex
	cred   *credential
	expiry *time.Timer

	prober       Prober
	ttl          time.Duration
	probeTimeout time.Duration
	wipeOnExpiry bool
	now          func() time.Time
	logger       zerolog.Logger
}

// NewVault returns an empty vault that validates secrets with prober.
func NewVault(prober Prober, opts Options) *Vault {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Vault{
		prober:       prober,
		ttl:          opts.TTL,
		probeTimeout: opts.ProbeTimeout,
		wipeOnExpiry: opts.WipeOnExpiry,
		now:          opts.Now,
		logger:       opts.Logger,
	}
}

// TTL returns the configured session lifetime.
func (v *Vault) TTL() time.Duration {
	return v.ttl
}

// Authenticate probes secret under elevation and, on success, replaces the
// cached credential with it. A rejected secret or a probe that outlives the
// probe timeout leaves the current credential untouched. The vault keeps its
// own copy; the caller may zero secret afterwards.
func (v *Vault) Authenticate(ctx context.Context, secret []byte) bool {
	if len(secret) == 0 {
		v.logger.Warn().Msg("Authentication rejected: empty secret")
		return false
	}
	if v.prober == nil {
		v.logger.Error().Msg("Authentication rejected: no prober configured")
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	start := v.now()
	if err := v.prober.Probe(probeCtx, secret); err != nil {
		v.logger.Warn().
			Err(err).
			Dur("duration_ms", v.now().Sub(start)).
			Msg("Elevation probe failed")
		return false
	}

	buf, lockErr := newSecretBuffer(secret)
	if lockErr != nil {
		v.logger.Debug().Err(lockErr).Msg("Elevation secret held in unlocked memory")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.discardLocked()
	cred := &credential{secret: buf, acquiredAt: v.now()}
	v.cred = cred
	if v.wipeOnExpiry {
		v.expiry = time.AfterFunc(v.ttl, func() { v.expire(cred) })
	}

	v.logger.Info().
		Time("acquired_at", cred.acquiredAt).
		Dur("ttl", v.ttl).
		Msg("Elevation session established")
	return true
}

// IsValid reports whether a credential is cached and younger than the ttl.
func (v *Vault) IsValid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.validLocked()
}

// Status reports validity and the freshness timestamps of the cached credential.
func (v *Vault) Status() SessionStatus {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cred == nil {
		return SessionStatus{}
	}
	acquired := v.cred.acquiredAt
	expires := acquired.Add(v.ttl)
	status := SessionStatus{
		Valid:      v.validLocked(),
		AcquiredAt: &acquired,
		ExpiresAt:  &expires,
	}
	if status.Valid {
		status.Remaining = expires.Sub(v.now()).Seconds()
	}
	return status
}

// AttachStdin wires a fresh copy of the cached secret, newline terminated, as
// the standard input of the elevation helper cmd. The returned release func
// zeroes that copy and must be called once cmd has exited. Validity is
// checked again under the vault lock so an expiry between gate check and
// attach is still refused.
func (v *Vault) AttachStdin(cmd *exec.Cmd) (release func(), err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.validLocked() {
		return nil, ErrSessionInvalid
	}
	source := v.cred.secret.bytes()
	payload := make([]byte, len(source)+1)
	copy(payload, source)
	payload[len(source)] = '\n'
	cmd.Stdin = bytes.NewReader(payload)
	return func() { clear(payload) }, nil
}

// Revoke discards the cached credential immediately.
func (v *Vault) Revoke() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cred != nil {
		v.logger.Info().Msg("Elevation session revoked")
	}
	v.discardLocked()
}

// Close zeroes any cached secret. The vault stays usable.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.discardLocked()
	return nil
}

func (v *Vault) validLocked() bool {
	if v.cred == nil || v.cred.secret == nil || v.cred.secret.bytes() == nil {
		return false
	}
	return v.now().Sub(v.cred.acquiredAt) < v.ttl
}

func (v *Vault) discardLocked() {
	if v.expiry != nil {
		v.expiry.Stop()
		v.expiry = nil
	}
	if v.cred != nil {
		v.cred.secret.destroy()
		v.cred = nil
	}
}

// expire wipes cred if it is still the cached credential.
func (v *Vault) expire(cred *credential) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cred != cred {
		return
	}
	v.logger.Debug().Msg("Elevation session expired; secret wiped")
	v.expiry = nil
	v.cred.secret.destroy()
	v.cred = nil
}
