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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

var certTracer = otel.Tracer("certforge.certificate")

// RecordCompletion ingests a course-completion event: it creates the
// certificate record and enqueues its mint job. The operation is idempotent
// per student/course pair; replaying the same event returns the existing
// record and its active job rather than minting twice.
func (c *Certforge) RecordCompletion(ctx context.Context, input model.CertificateRecord) (*model.CertificateRecord, *model.MintJob, error) {
	ctx, span := certTracer.Start(ctx, "RecordCompletion", trace.WithAttributes(
		attribute.String("student.id", input.StudentID),
		attribute.String("course.id", input.CourseID),
	))
	defer span.End()

	existing, err := c.datasource.GetCertificateByStudentAndCourse(ctx, input.StudentID, input.CourseID)
	if err != nil && !apierror.IsNotFound(err) {
		span.RecordError(err)
		return nil, nil, err
	}

	if existing != nil {
		// Duplicate event. A confirmed certificate needs nothing; anything
		// else gets its job (re)enqueued, which is a no-op while one is
		// active.
		if existing.Status == model.StatusConfirmed {
			return existing, nil, nil
		}
		job, _, err := c.queue.Enqueue(ctx, existing.CertificateID)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		return existing, job, nil
	}

	created, err := c.datasource.CreateCertificate(ctx, input)
	if err != nil {
		// Two concurrent duplicate events can both miss the lookup above; the
		// loser of the student/course unique-index race adopts the winner's
		// record instead of surfacing a conflict.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			winner, lookupErr := c.datasource.GetCertificateByStudentAndCourse(ctx, input.StudentID, input.CourseID)
			if lookupErr == nil {
				job, _, jobErr := c.queue.Enqueue(ctx, winner.CertificateID)
				if jobErr != nil {
					span.RecordError(jobErr)
					return nil, nil, jobErr
				}
				return winner, job, nil
			}
		}
		span.RecordError(err)
		return nil, nil, err
	}

	job, _, err := c.queue.Enqueue(ctx, created.CertificateID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	if err := c.datasource.UpdateCertificateStatus(ctx, created.CertificateID, model.StatusQueued); err != nil {
		logrus.WithError(err).Warn("failed to mark certificate queued")
	} else {
		created.Status = model.StatusQueued
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: EventCertificateQueued, Payload: created.Public()}); err != nil {
			logrus.WithError(err).Warn("failed to enqueue certificate.queued webhook")
		}
	}()
	c.queueIndexData(created.CertificateID, "certificates", created)

	logrus.WithFields(logrus.Fields{
		"certificate_id":     created.CertificateID,
		"certificate_number": created.CertificateNumber,
		"student_id":         created.StudentID,
		"course_id":          created.CourseID,
	}).Info("completion recorded")

	return &created, job, nil
}

// GetCertificate returns a certificate by id.
func (c *Certforge) GetCertificate(ctx context.Context, id string) (*model.CertificateRecord, error) {
	return c.datasource.GetCertificate(ctx, id)
}

// GetCertificates lists certificates, newest first.
func (c *Certforge) GetCertificates(ctx context.Context, limit, offset int) ([]model.CertificateRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return c.datasource.GetAllCertificates(ctx, limit, offset)
}

// RequeueCertificate resubmits a failed certificate for minting. Confirmed
// certificates are refused.
func (c *Certforge) RequeueCertificate(ctx context.Context, id string) (*model.MintJob, error) {
	cert, err := c.datasource.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.Status == model.StatusConfirmed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Certificate already confirmed on-chain", nil)
	}

	job, err := c.queue.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.datasource.UpdateCertificateStatus(ctx, id, model.StatusQueued); err != nil {
		logrus.WithError(err).Warn("failed to mark certificate queued after requeue")
	}
	return job, nil
}
