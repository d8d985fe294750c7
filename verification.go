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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

var verifyTracer = otel.Tracer("certforge.verification")

const verificationCacheTTL = 30 * time.Second

// Verify answers a public verification request. The caller supplies exactly
// one identifier; the result is always a structured verdict. Routine
// negatives (unknown certificate, not yet confirmed) come back as verdicts,
// not errors. An unreachable RPC node degrades the check: the off-chain
// record is still returned, flagged as not checked on-chain.
func (c *Certforge) Verify(ctx context.Context, req model.VerificationRequest) (*model.VerificationResult, error) {
	ctx, span := verifyTracer.Start(ctx, "VerifyCertificate")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), err)
	}

	cert, expectedCode, err := c.resolveCertificate(ctx, req)
	if err != nil {
		if apierror.IsNotFound(err) {
			return &model.VerificationResult{Status: model.VerdictInvalid, Reason: model.ReasonNotFound}, nil
		}
		span.RecordError(err)
		return nil, err
	}

	// A QR payload carries the verification code alongside the certificate
	// number; a forged code on a real number is invalid, not not-found.
	if expectedCode != "" && expectedCode != cert.VerificationCode {
		return &model.VerificationResult{Status: model.VerdictInvalid, Reason: model.ReasonNotFound}, nil
	}

	span.SetAttributes(attribute.String("certificate.id", cert.CertificateID))

	public := cert.Public()

	if cert.Status != model.StatusConfirmed {
		return &model.VerificationResult{
			Status:      model.VerdictPending,
			Reason:      model.ReasonNotYetConfirmed,
			Certificate: &public,
		}, nil
	}

	if cached := c.cachedVerification(ctx, cert.CertificateID); cached != nil {
		return cached, nil
	}

	result := c.crossCheck(ctx, cert)
	result.Certificate = &public
	result.ChainRef = cert.ChainRef
	if cert.ChainRef != nil {
		result.ExplorerUrl = c.chain.ExplorerTxUrl(cert.ChainRef.TxHash)
	}

	if result.CheckedOnChain {
		c.cacheVerification(ctx, cert.CertificateID, result)
	}
	return result, nil
}

// resolveCertificate loads the record behind whichever identifier the request
// carries. For QR payloads it also returns the code embedded in the payload
// so the caller can reject forgeries.
func (c *Certforge) resolveCertificate(ctx context.Context, req model.VerificationRequest) (*model.CertificateRecord, string, error) {
	switch {
	case req.CertificateID != "":
		cert, err := c.datasource.GetCertificate(ctx, req.CertificateID)
		return cert, "", err
	case req.VerificationCode != "":
		cert, err := c.datasource.GetCertificateByVerificationCode(ctx, req.VerificationCode)
		return cert, "", err
	default:
		number, code, err := model.ParseQRPayload(req.QRPayload)
		if err != nil {
			return nil, "", apierror.NewAPIError(apierror.ErrBadRequest, "Malformed QR payload", err)
		}
		cert, err := c.datasource.GetCertificateByNumber(ctx, number)
		return cert, code, err
	}
}

// crossCheck compares the off-chain record against the registry contract,
// field by field. The on-chain copy was written at mint time and never
// changes, so any divergence means the database row was edited afterwards
// (or mis-entered before).
func (c *Certforge) crossCheck(ctx context.Context, cert *model.CertificateRecord) *model.VerificationResult {
	onChain, err := c.chain.GetCertificate(ctx, cert.ChainRef.OnChainID)
	if err != nil {
		logrus.WithError(err).WithField("certificate_id", cert.CertificateID).Warn("chain unreachable during verification")
		return &model.VerificationResult{
			Status:         model.VerdictValid,
			Reason:         model.ReasonChainUnavailable,
			CheckedOnChain: false,
		}
	}

	// A record the contract itself marks invalid needs no field comparison.
	if !onChain.IsValid {
		logrus.WithField("certificate_id", cert.CertificateID).Error("certificate flagged invalid on-chain")
		return &model.VerificationResult{
			Status:         model.VerdictInvalid,
			Reason:         model.ReasonDataMismatch,
			CheckedOnChain: true,
		}
	}

	checks := []model.FieldCheck{
		fieldCheck("student_id", cert.StudentID, onChain.Student),
		fieldCheck("course_name", cert.CourseName, onChain.CourseName),
		fieldCheck("metadata_hash", cert.MetadataHash, onChain.MetadataHash),
	}

	for i := range checks {
		if !checks[i].Match {
			logrus.WithFields(logrus.Fields{
				"certificate_id": cert.CertificateID,
				"field":          checks[i].Field,
			}).Error("on-chain/off-chain mismatch during verification")
			return &model.VerificationResult{
				Status:         model.VerdictInvalid,
				Reason:         model.ReasonDataMismatch,
				CheckedOnChain: true,
				Checks:         checks,
			}
		}
	}

	return &model.VerificationResult{
		Status:         model.VerdictValid,
		CheckedOnChain: true,
		Checks:         checks,
	}
}

// fieldCheck compares one field and, on mismatch, scores how close the values
// are. A near-identical pair suggests a data-entry slip rather than
// tampering, which helps whoever investigates.
func fieldCheck(field, offChain, onChain string) model.FieldCheck {
	check := model.FieldCheck{
		Field:    field,
		OffChain: offChain,
		OnChain:  onChain,
		Match:    offChain == onChain,
	}
	if !check.Match {
		check.Similarity = levenshtein.RatioForStrings([]rune(offChain), []rune(onChain), levenshtein.DefaultOptions)
	}
	return check
}

func verificationCacheKey(certificateID string) string {
	return fmt.Sprintf("verify:%s", certificateID)
}

func (c *Certforge) cachedVerification(ctx context.Context, certificateID string) *model.VerificationResult {
	if c.cache == nil {
		return nil
	}
	var result model.VerificationResult
	if err := c.cache.Get(ctx, verificationCacheKey(certificateID), &result); err != nil {
		return nil
	}
	// Cache misses leave the value untouched; an empty status means no entry.
	if result.Status == "" {
		return nil
	}
	return &result
}

func (c *Certforge) cacheVerification(ctx context.Context, certificateID string, result *model.VerificationResult) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, verificationCacheKey(certificateID), result, verificationCacheTTL); err != nil {
		logrus.WithError(err).Debug("failed to cache verification result")
	}
}
