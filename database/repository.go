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
	"time"

	"github.com/certforge/certforge/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	certificate // Interface for certificate-record operations
	mintJob     // Interface for mint-job queue operations
}

// certificate defines methods for handling certificate records.
type certificate interface {
	CreateCertificate(ctx context.Context, cert model.CertificateRecord) (model.CertificateRecord, error)                // Creates a new certificate record
	GetCertificate(ctx context.Context, id string) (*model.CertificateRecord, error)                                     // Retrieves a certificate by ID
	GetCertificateByNumber(ctx context.Context, number string) (*model.CertificateRecord, error)                         // Retrieves a certificate by its human-facing number
	GetCertificateByVerificationCode(ctx context.Context, code string) (*model.CertificateRecord, error)                 // Retrieves a certificate by its verification code
	GetCertificateByStudentAndCourse(ctx context.Context, studentID, courseID string) (*model.CertificateRecord, error)  // Retrieves a certificate for a student/course pair
	GetAllCertificates(ctx context.Context, limit, offset int) ([]model.CertificateRecord, error)                        // Retrieves certificates, newest first
	UpdateCertificateStatus(ctx context.Context, id string, status string) error                                         // Updates the status of a certificate
	SetMetadataHash(ctx context.Context, id string, hash string) error                                                   // Sets the metadata hash, once
	ConfirmCertificate(ctx context.Context, id string, ref model.ChainRef) error                                         // Persists the chain ref and flips status to confirmed atomically
}

// mintJob defines the durable queue operations for mint jobs.
type mintJob interface {
	EnqueueJob(ctx context.Context, certificateID string) (*model.MintJob, bool, error)                                // Creates a job, or returns the existing non-terminal one
	DequeueNextJob(ctx context.Context, visibility time.Duration) (*model.MintJob, error)                              // Leases the oldest due job; nil when none is due
	AckJob(ctx context.Context, jobID string) error                                                                    // Marks a job succeeded
	NackJob(ctx context.Context, jobID string, nextRetryAt time.Time, lastError string, maxAttempts int) (*model.MintJob, error) // Schedules a retry, or fails terminally at the attempt cap
	FailJob(ctx context.Context, jobID string, reason string) error                                                    // Fails a job immediately (non-retryable errors)
	UpdateJobState(ctx context.Context, jobID string, state string) error                                              // Advances the job state machine
	RecordJobTxHash(ctx context.Context, jobID string, txHash string) error                                            // Records the pending mint tx and moves to confirming
	GetJob(ctx context.Context, jobID string) (*model.MintJob, error)                                                  // Retrieves a job by ID
	GetActiveJobByCertificateID(ctx context.Context, certificateID string) (*model.MintJob, error)                     // Retrieves the non-terminal job for a certificate, if any
	GetQueueStats(ctx context.Context) (model.QueueStats, error)                                                       // Counts pending, in-flight and failed jobs
	GetFailedJobs(ctx context.Context, limit int) ([]model.MintJob, error)                                             // Lists terminally failed jobs for the operator view
}
