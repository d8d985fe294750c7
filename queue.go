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

package certforge

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/database"
	"github.com/certforge/certforge/model"
)

var queueTracer = otel.Tracer("certforge.queue")

// Queue is the durable mint-job queue. Jobs live in Postgres so they survive
// restarts; a job leased by a worker becomes invisible to other workers until
// it is acked, nacked or its lease expires.
type Queue struct {
	datasource        database.IDataSource
	maxAttempts       int
	backoff           model.BackoffPolicy
	fundsBackoff      time.Duration
	visibilityTimeout time.Duration
}

// NewQueue builds the mint queue from configuration.
func NewQueue(db database.IDataSource, conf *config.Configuration) *Queue {
	return &Queue{
		datasource:        db,
		maxAttempts:       conf.Queue.MaxAttempts,
		backoff:           model.BackoffPolicy{Base: conf.Queue.BackoffBase(), Cap: conf.Queue.BackoffCap()},
		fundsBackoff:      conf.Queue.InsufficientFundsBackoff(),
		visibilityTimeout: conf.Queue.VisibilityTimeout(),
	}
}

// Enqueue creates a mint job for the certificate. Enqueueing is idempotent on
// the certificate id: a second call while a job is still active returns the
// existing job instead of creating another.
func (q *Queue) Enqueue(ctx context.Context, certificateID string) (*model.MintJob, bool, error) {
	ctx, span := queueTracer.Start(ctx, "QueueEnqueue", trace.WithAttributes(
		attribute.String("certificate.id", certificateID),
	))
	defer span.End()

	job, created, err := q.datasource.EnqueueJob(ctx, certificateID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	if created {
		logrus.WithFields(logrus.Fields{
			"job_id":         job.JobID,
			"certificate_id": certificateID,
		}).Info("mint job enqueued")
	}
	return job, created, nil
}

// DequeueNext leases the oldest due job for this queue's visibility window.
// Returns nil when the queue has nothing due.
func (q *Queue) DequeueNext(ctx context.Context) (*model.MintJob, error) {
	return q.datasource.DequeueNextJob(ctx, q.visibilityTimeout)
}

// Ack marks the job as succeeded.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	return q.datasource.AckJob(ctx, jobID)
}

// Nack records a retryable failure. The retry is scheduled with exponential
// backoff on the attempt count; when the attempt budget is exhausted the job
// fails terminally instead. The job's state is preserved, so a job that
// already has a transaction in flight resumes from confirmation rather than
// submitting again.
func (q *Queue) Nack(ctx context.Context, job *model.MintJob, cause error) (*model.MintJob, error) {
	delay := q.backoff.Delay(job.Attempts + 1)
	maxAttempts := q.maxAttempts
	if errors.Is(cause, model.ErrInsufficientFunds) {
		// Funding a wallet is a human act. The job waits on the longer
		// funding backoff and stays out of the attempt cap: an empty wallet
		// must leave jobs queued, not failed, until someone tops it up.
		delay = q.fundsBackoff
		maxAttempts = 0
	}

	nextRetryAt := time.Now().Add(delay)
	updated, err := q.datasource.NackJob(ctx, job.JobID, nextRetryAt, cause.Error(), maxAttempts)
	if err != nil {
		return nil, err
	}

	if updated.Terminal() {
		logrus.WithFields(logrus.Fields{
			"job_id":         updated.JobID,
			"certificate_id": updated.CertificateID,
			"attempts":       updated.Attempts,
			"last_error":     updated.LastError,
		}).Error("mint job failed terminally")
	} else {
		logrus.WithFields(logrus.Fields{
			"job_id":        updated.JobID,
			"attempts":      updated.Attempts,
			"next_retry_at": updated.NextRetryAt,
		}).Warn("mint job retry scheduled")
	}
	return updated, nil
}

// FailNow fails the job terminally without consuming retries. Used for
// non-retryable configuration errors.
func (q *Queue) FailNow(ctx context.Context, jobID string, reason string) error {
	return q.datasource.FailJob(ctx, jobID, reason)
}

// MarkState advances the job's state machine.
func (q *Queue) MarkState(ctx context.Context, jobID string, state string) error {
	return q.datasource.UpdateJobState(ctx, jobID, state)
}

// RecordTxHash persists the broadcast transaction hash before confirmation
// starts.
func (q *Queue) RecordTxHash(ctx context.Context, jobID string, txHash string) error {
	return q.datasource.RecordJobTxHash(ctx, jobID, txHash)
}

// GetStats reports pending, in-flight and failed job counts.
func (q *Queue) GetStats(ctx context.Context) (model.QueueStats, error) {
	return q.datasource.GetQueueStats(ctx)
}

// FailedJobs lists terminally failed jobs for the operator view.
func (q *Queue) FailedJobs(ctx context.Context, limit int) ([]model.MintJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.datasource.GetFailedJobs(ctx, limit)
}

// Requeue resubmits a certificate whose previous job failed terminally. The
// idempotency index still applies: if an active job exists, that job is
// returned instead of a new one.
func (q *Queue) Requeue(ctx context.Context, certificateID string) (*model.MintJob, error) {
	ctx, span := queueTracer.Start(ctx, "QueueRequeue", trace.WithAttributes(
		attribute.String("certificate.id", certificateID),
	))
	defer span.End()

	job, created, err := q.datasource.EnqueueJob(ctx, certificateID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if created {
		logrus.WithFields(logrus.Fields{
			"job_id":         job.JobID,
			"certificate_id": certificateID,
		}).Info("mint job requeued")
	}
	return job, nil
}
