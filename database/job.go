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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

const mintJobColumns = `
	job_id, certificate_id, state, attempts, next_retry_at, locked_until,
	tx_hash, last_error, created_at, updated_at
`

// EnqueueJob inserts a mint job for the certificate, or returns the existing
// non-terminal job when one is already queued. The boolean reports whether a
// new job was created. The partial unique index on (certificate_id) makes the
// insert race-safe under concurrent duplicate completion events.
func (d Datasource) EnqueueJob(ctx context.Context, certificateID string) (*model.MintJob, bool, error) {
	jobID := model.GenerateUUIDWithSuffix("job")

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO certforge.mint_jobs (job_id, certificate_id, state, attempts, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, 'enqueued', 0, NOW(), NOW(), NOW())
		ON CONFLICT (certificate_id)
		WHERE state IN ('enqueued', 'uploading', 'submitting', 'confirming')
		DO NOTHING
	`, jobID, certificateID)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue mint job", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		job, err := d.GetJob(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	// Lost the race or duplicate event: hand back the active job.
	job, err := d.GetActiveJobByCertificateID(ctx, certificateID)
	if err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// DequeueNextJob leases the oldest due job for the visibility window. Jobs
// with a future next_retry_at, a live lease or a terminal state are
// invisible. Returns nil when nothing is due.
func (d Datasource) DequeueNextJob(ctx context.Context, visibility time.Duration) (*model.MintJob, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE certforge.mint_jobs
		SET locked_until = NOW() + make_interval(secs => $1), updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM certforge.mint_jobs
			WHERE state IN ('enqueued', 'uploading', 'submitting', 'confirming')
			  AND next_retry_at <= NOW()
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+mintJobColumns+`
	`, visibility.Seconds())

	job, err := scanMintJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to dequeue mint job", err)
	}
	return job, nil
}

// AckJob marks a job succeeded and releases its lease.
func (d Datasource) AckJob(ctx context.Context, jobID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.mint_jobs
		SET state = $2, locked_until = NULL, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, model.JobStateSucceeded)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to ack mint job", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", nil)
	}
	return nil
}

// NackJob schedules a retry: the attempt counter goes up, the lease is
// released and the job becomes visible again at nextRetryAt. Once the attempt
// counter reaches maxAttempts the job lands in the terminal failed state
// instead; maxAttempts <= 0 means no cap, used for failures that wait on an
// operator rather than on a retry. The updated job is returned so callers can
// see which of the two happened.
func (d Datasource) NackJob(ctx context.Context, jobID string, nextRetryAt time.Time, lastError string, maxAttempts int) (*model.MintJob, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE certforge.mint_jobs
		SET attempts = attempts + 1,
			next_retry_at = $2,
			last_error = $3,
			locked_until = NULL,
			state = CASE WHEN $4 > 0 AND attempts + 1 >= $4 THEN 'failed' ELSE state END,
			updated_at = NOW()
		WHERE job_id = $1
		RETURNING `+mintJobColumns+`
	`, jobID, nextRetryAt, lastError, maxAttempts)

	job, err := scanMintJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to nack mint job", err)
	}
	return job, nil
}

// FailJob moves a job straight to the terminal failed state, bypassing the
// retry budget. Used for configuration errors where retrying cannot succeed.
func (d Datasource) FailJob(ctx context.Context, jobID string, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.mint_jobs
		SET state = $2, last_error = $3, locked_until = NULL, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, model.JobStateFailed, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail mint job", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", nil)
	}
	return nil
}

// UpdateJobState advances the job's state machine.
func (d Datasource) UpdateJobState(ctx context.Context, jobID string, state string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.mint_jobs
		SET state = $2, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, state)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mint job state", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", nil)
	}
	return nil
}

// RecordJobTxHash stores the pending mint transaction hash and moves the job
// to confirming. A redelivered job that carries a tx hash is resumed by
// re-checking that transaction, never by submitting a second one.
func (d Datasource) RecordJobTxHash(ctx context.Context, jobID string, txHash string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.mint_jobs
		SET tx_hash = $2, state = $3, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, txHash, model.JobStateConfirming)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record mint job tx hash", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", nil)
	}
	return nil
}

// GetJob retrieves a job by its ID.
func (d Datasource) GetJob(ctx context.Context, jobID string) (*model.MintJob, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mintJobColumns+`
		FROM certforge.mint_jobs
		WHERE job_id = $1
	`, jobID)

	job, err := scanMintJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Mint job not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mint job", err)
	}
	return job, nil
}

// GetActiveJobByCertificateID returns the single non-terminal job for a
// certificate, if one exists.
func (d Datasource) GetActiveJobByCertificateID(ctx context.Context, certificateID string) (*model.MintJob, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mintJobColumns+`
		FROM certforge.mint_jobs
		WHERE certificate_id = $1
		  AND state IN ('enqueued', 'uploading', 'submitting', 'confirming')
	`, certificateID)

	job, err := scanMintJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "No active mint job for certificate", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mint job", err)
	}
	return job, nil
}

// GetQueueStats counts jobs by operator-facing bucket. A job with a live
// lease counts as in-flight, everything else non-terminal counts as pending
// whether or not its retry is due yet.
func (d Datasource) GetQueueStats(ctx context.Context) (model.QueueStats, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state IN ('enqueued', 'uploading', 'submitting', 'confirming') AND (locked_until IS NULL OR locked_until < NOW())),
			COUNT(*) FILTER (WHERE state IN ('enqueued', 'uploading', 'submitting', 'confirming') AND locked_until IS NOT NULL AND locked_until >= NOW()),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM certforge.mint_jobs
	`)

	var stats model.QueueStats
	if err := row.Scan(&stats.Pending, &stats.InFlight, &stats.Failed); err != nil {
		return model.QueueStats{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read queue stats", err)
	}
	return stats, nil
}

// GetFailedJobs lists terminally failed jobs, newest first, for the operator
// view. Failed jobs are never silently dropped; they stay here until an
// operator resubmits or discards them.
func (d Datasource) GetFailedJobs(ctx context.Context, limit int) ([]model.MintJob, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mintJobColumns+`
		FROM certforge.mint_jobs
		WHERE state = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list failed jobs", err)
	}
	defer rows.Close()

	jobs := []model.MintJob{}
	for rows.Next() {
		job, err := scanMintJob(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan mint job", err)
		}
		jobs = append(jobs, *job)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over failed jobs", err)
	}

	return jobs, nil
}

func scanMintJob(row rowScanner) (*model.MintJob, error) {
	job := model.MintJob{}
	var lockedUntil sql.NullTime
	var txHash, lastError sql.NullString

	err := row.Scan(
		&job.JobID, &job.CertificateID, &job.State, &job.Attempts, &job.NextRetryAt,
		&lockedUntil, &txHash, &lastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lockedUntil.Valid {
		job.LockedUntil = &lockedUntil.Time
	}
	job.TxHash = txHash.String
	job.LastError = lastError.String

	return &job, nil
}
