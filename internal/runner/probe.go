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
	"fmt"
	"os/exec"
	"strings"
	"time"

	"remotectl/internal/elevation"
)

// HelperProbe returns a prober that runs `helper -- true` with the candidate
// secret on stdin. The vault bounds it with the probe timeout.
func HelperProbe(helper []string) elevation.ProberFunc {
	if len(helper) == 0 {
		helper = DefaultHelper
	}
	argv := append(append([]string{}, helper...), "--", "true")
	return func(ctx context.Context, secret []byte) error {
		payload := make([]byte, len(secret)+1)
		copy(payload, secret)
		payload[len(secret)] = '\n'
		defer clear(payload)

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		cmd.WaitDelay = time.Second
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("probe timed out: %w", ctx.Err())
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("probe rejected: %w: %s", err, msg)
			}
			return fmt.Errorf("probe rejected: %w", err)
		}
		return nil
	}
}
