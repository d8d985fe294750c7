/*
Copyright 2025 Certforge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds marks a mint attempt blocked by the wallet balance
// floor. The queue applies its distinct, longer backoff to these, since a
// human has to top the wallet up before a retry can succeed.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrConfirmationTimeout marks a confirmation wait that ran out of time. The
// transaction may still confirm later; callers must re-check by tx hash, not
// resubmit.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// ConfigError is a non-retryable setup problem: a missing on-chain role, a
// malformed contract address. Retrying cannot succeed, so the job fails
// immediately without consuming its retry budget.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigError wraps a reason into a non-retryable configuration error.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsNonRetryable reports whether the error should fail a job immediately
// instead of scheduling a retry.
func IsNonRetryable(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
