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
	"time"
)

// Mint job states. A job walks enqueued -> uploading -> submitting ->
// confirming -> succeeded, or drops to failed once its retry budget is spent
// or it hits a non-retryable configuration error. succeeded and failed are
// terminal; a terminal failed job is only ever revived by an operator
// resubmission, which creates a fresh job.
const (
	JobStateEnqueued   = "enqueued"
	JobStateUploading  = "uploading"
	JobStateSubmitting = "submitting"
	JobStateConfirming = "confirming"
	JobStateSucceeded  = "succeeded"
	JobStateFailed     = "failed"
)

// MintJob is one mint attempt lifecycle for a certificate. The certificate is
// referenced by id only; the job never embeds certificate fields. The
// certificate id doubles as the idempotency key: the queue holds at most one
// non-terminal job per certificate.
type MintJob struct {
	JobID         string     `json:"job_id"`
	CertificateID string     `json:"certificate_id"`
	State         string     `json:"state"`
	Attempts      int        `json:"attempts"`
	NextRetryAt   time.Time  `json:"next_retry_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	TxHash        string     `json:"tx_hash,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *MintJob) Terminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailed
}

// NonTerminalJobStates lists the states in which a job is still owned by the
// queue's retry cycle.
func NonTerminalJobStates() []string {
	return []string{JobStateEnqueued, JobStateUploading, JobStateSubmitting, JobStateConfirming}
}

// BackoffPolicy computes retry delays: base * 2^(attempt-1), capped. Delays
// strictly increase with the attempt count until the cap, then stay constant.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff delay after the given number of completed
// attempts. attempts < 1 is treated as 1.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// QueueStats is the operator-facing snapshot of the mint queue.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
	Failed   int64 `json:"failed"`
}
