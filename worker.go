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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/certforge/certforge/config"
	redlock "github.com/certforge/certforge/internal/lock"
	"github.com/certforge/certforge/internal/notification"
	"github.com/certforge/certforge/model"
)

var workerTracer = otel.Tracer("certforge.worker")

// walletLockKey serializes transaction submission across workers. All mints
// are signed by one wallet, so concurrent submissions would race on the nonce.
const walletLockKey = "certforge:wallet:submit"

// Processor drains the mint queue: each leased job is driven through metadata
// upload, transaction submission and confirmation. Every step is idempotent,
// so a crashed worker's job is simply redelivered after its lease expires and
// resumes where it stopped.
type Processor struct {
	forge        *Certforge
	workers      int
	pollInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewProcessor builds a processor from configuration.
func NewProcessor(forge *Certforge, conf *config.Configuration) *Processor {
	pollInterval := time.Duration(conf.Queue.PollIntervalSec) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	workers := conf.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		forge:        forge,
		workers:      workers,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

// Start launches the worker pool. It returns immediately; workers poll until
// Stop is called or the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logrus.WithField("workers", p.workers).Info("mint processor starting")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Stop signals all workers to finish their current job and exit, then waits
// for them.
func (p *Processor) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain processes due jobs until the queue is empty, so a backlog clears at
// full speed instead of one job per tick.
func (p *Processor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		job, err := p.forge.queue.DequeueNext(ctx)
		if err != nil {
			logrus.WithError(err).Error("failed to dequeue mint job")
			return
		}
		if job == nil {
			return
		}
		if err := p.ProcessOne(ctx, job); err != nil {
			logrus.WithError(err).WithField("job_id", job.JobID).Error("mint job processing error")
		}
	}
}

// ProcessBatch leases and processes up to limit due jobs synchronously and
// reports how many were handled. Used by the trigger endpoint so an external
// scheduler can drive the queue without running resident workers.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 10
	}

	processed := 0
	for processed < limit {
		job, err := p.forge.queue.DequeueNext(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}
		if err := p.ProcessOne(ctx, job); err != nil {
			logrus.WithError(err).WithField("job_id", job.JobID).Error("mint job processing error")
		}
		processed++
	}
	return processed, nil
}

// ProcessOne drives a single leased job to its next resting state: acked,
// scheduled for retry, or terminally failed.
func (p *Processor) ProcessOne(ctx context.Context, job *model.MintJob) error {
	ctx, span := workerTracer.Start(ctx, "ProcessMintJob", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("certificate.id", job.CertificateID),
		attribute.Int("job.attempts", job.Attempts),
	))
	defer span.End()

	cert, err := p.forge.datasource.GetCertificate(ctx, job.CertificateID)
	if err != nil {
		span.RecordError(err)
		return p.retryOrFail(ctx, job, err)
	}

	// A redelivered job whose certificate already confirmed has nothing left
	// to do.
	if cert.Status == model.StatusConfirmed {
		return p.forge.queue.Ack(ctx, job.JobID)
	}

	if err := p.forge.datasource.UpdateCertificateStatus(ctx, cert.CertificateID, model.StatusMinting); err != nil {
		logrus.WithError(err).Warn("failed to mark certificate minting")
	}

	// Resume before resubmit: a job that died between broadcast and
	// confirmation carries its tx hash, and submitting again would mint the
	// certificate twice.
	if job.TxHash != "" {
		known, err := p.forge.chain.TransactionKnown(ctx, job.TxHash)
		if err != nil {
			span.RecordError(err)
			return p.retryOrFail(ctx, job, err)
		}
		if known {
			return p.confirm(ctx, job, cert, job.TxHash)
		}
		// The node dropped the transaction; fall through to a fresh
		// submission.
		logrus.WithFields(logrus.Fields{
			"job_id":  job.JobID,
			"tx_hash": job.TxHash,
		}).Warn("pending transaction no longer known, resubmitting")
	}

	// Metadata upload. The hash is write-once, so redelivery skips this once
	// it is recorded.
	metadataHash := cert.MetadataHash
	if metadataHash == "" {
		if err := p.forge.queue.MarkState(ctx, job.JobID, model.JobStateUploading); err != nil {
			logrus.WithError(err).Warn("failed to mark job uploading")
		}
		metadataHash, err = p.forge.store.Upload(ctx, cert)
		if err != nil {
			span.RecordError(err)
			return p.retryOrFail(ctx, job, err)
		}
		if err := p.forge.datasource.SetMetadataHash(ctx, cert.CertificateID, metadataHash); err != nil {
			span.RecordError(err)
			return p.retryOrFail(ctx, job, err)
		}
	}

	granted, err := p.forge.chain.HasMinterRole(ctx)
	if err != nil {
		span.RecordError(err)
		return p.retryOrFail(ctx, job, err)
	}
	if !granted {
		// Granting the role is an operator action; retrying cannot fix it.
		return p.failTerminally(ctx, job, cert, model.NewConfigError("signer wallet lacks MINTER_ROLE on registry contract"))
	}

	// The policy floor gates submission up front. Waiting for the node to
	// reject the broadcast would mint from an underfunded wallet whenever the
	// raw tx cost happens to be covered, and depends on the node's error text.
	wallet, err := p.forge.WalletStatus(ctx)
	if err != nil {
		span.RecordError(err)
		return p.retryOrFail(ctx, job, err)
	}
	if !wallet.CanMint {
		span.RecordError(model.ErrInsufficientFunds)
		return p.retryOrFail(ctx, job, model.ErrInsufficientFunds)
	}

	if err := p.forge.queue.MarkState(ctx, job.JobID, model.JobStateSubmitting); err != nil {
		logrus.WithError(err).Warn("failed to mark job submitting")
	}

	txHash, err := p.submitLocked(ctx, cert, metadataHash)
	if err != nil {
		span.RecordError(err)
		return p.retryOrFail(ctx, job, err)
	}

	// Persist the hash before waiting: if we crash during confirmation, the
	// redelivered job resumes this transaction instead of minting again.
	if err := p.forge.queue.RecordTxHash(ctx, job.JobID, txHash); err != nil {
		span.RecordError(err)
		return p.retryOrFail(ctx, job, err)
	}
	job.TxHash = txHash

	return p.confirm(ctx, job, cert, txHash)
}

// submitLocked broadcasts the mint transaction under the wallet lock.
func (p *Processor) submitLocked(ctx context.Context, cert *model.CertificateRecord, metadataHash string) (string, error) {
	locker := redlock.NewLocker(p.forge.redis, walletLockKey, uuid.New().String())
	if err := locker.WaitLock(ctx, 30*time.Second, 60*time.Second); err != nil {
		return "", err
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to release wallet lock")
		}
	}()

	return p.forge.chain.SubmitMint(ctx, cert, metadataHash)
}

// confirm waits out the confirmation depth and finalizes the certificate.
func (p *Processor) confirm(ctx context.Context, job *model.MintJob, cert *model.CertificateRecord, txHash string) error {
	if job.State != model.JobStateConfirming {
		if err := p.forge.queue.MarkState(ctx, job.JobID, model.JobStateConfirming); err != nil {
			logrus.WithError(err).Warn("failed to mark job confirming")
		}
	}

	ref, err := p.forge.chain.AwaitConfirmation(ctx, txHash)
	if err != nil {
		return p.retryOrFail(ctx, job, err)
	}

	if err := p.forge.datasource.ConfirmCertificate(ctx, cert.CertificateID, *ref); err != nil {
		return p.retryOrFail(ctx, job, err)
	}
	if err := p.forge.queue.Ack(ctx, job.JobID); err != nil {
		return err
	}

	cert.Status = model.StatusConfirmed
	cert.ChainRef = ref

	logrus.WithFields(logrus.Fields{
		"certificate_id": cert.CertificateID,
		"tx_hash":        ref.TxHash,
		"block_number":   ref.BlockNumber,
		"on_chain_id":    ref.OnChainID,
	}).Info("certificate confirmed on-chain")

	go func() {
		if err := SendWebhook(NewWebhook{Event: EventCertificateConfirmed, Payload: map[string]interface{}{
			"certificate": cert.Public(),
			"chain_ref":   ref,
		}}); err != nil {
			logrus.WithError(err).Warn("failed to enqueue certificate.confirmed webhook")
		}
	}()
	p.forge.queueIndexData(cert.CertificateID, "certificates", cert)

	return nil
}

// retryOrFail routes an error to its resting state: non-retryable errors fail
// the job immediately, everything else is nacked for a backoff retry. A nack
// that exhausts the attempt budget also fails the certificate.
func (p *Processor) retryOrFail(ctx context.Context, job *model.MintJob, cause error) error {
	if model.IsNonRetryable(cause) {
		cert, err := p.forge.datasource.GetCertificate(ctx, job.CertificateID)
		if err != nil {
			cert = &model.CertificateRecord{CertificateID: job.CertificateID}
		}
		return p.failTerminally(ctx, job, cert, cause)
	}

	updated, err := p.forge.queue.Nack(ctx, job, cause)
	if err != nil {
		return err
	}
	if updated.Terminal() {
		p.markCertificateFailed(ctx, job.CertificateID, updated.LastError)
	}
	return nil
}

// failTerminally fails job and certificate without consuming the retry
// budget.
func (p *Processor) failTerminally(ctx context.Context, job *model.MintJob, cert *model.CertificateRecord, cause error) error {
	if err := p.forge.queue.FailNow(ctx, job.JobID, cause.Error()); err != nil {
		return err
	}
	p.markCertificateFailed(ctx, cert.CertificateID, cause.Error())
	return nil
}

func (p *Processor) markCertificateFailed(ctx context.Context, certificateID string, reason string) {
	if err := p.forge.datasource.UpdateCertificateStatus(ctx, certificateID, model.StatusFailed); err != nil {
		logrus.WithError(err).Warn("failed to mark certificate failed")
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: EventCertificateFailed, Payload: map[string]interface{}{
			"certificate_id": certificateID,
			"reason":         reason,
		}}); err != nil {
			logrus.WithError(err).Warn("failed to enqueue certificate.failed webhook")
		}
	}()
	notification.NotifyError(&mintFailure{certificateID: certificateID, reason: reason})
}

type mintFailure struct {
	certificateID string
	reason        string
}

func (e *mintFailure) Error() string {
	return "mint failed for certificate " + e.certificateID + ": " + e.reason
}
