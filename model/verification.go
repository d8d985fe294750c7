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
)

// Verification verdicts and reason codes. These are expected outcomes, never
// raised as errors: an unknown certificate is a normal negative result.
const (
	VerdictValid   = "valid"
	VerdictPending = "pending"
	VerdictInvalid = "invalid"

	ReasonNotFound         = "not-found"
	ReasonNotYetConfirmed  = "not-yet-confirmed"
	ReasonDataMismatch     = "data-mismatch"
	ReasonChainUnavailable = "chain-unavailable"
)

// VerificationRequest carries exactly one of the three accepted identifier
// forms. Supplying none or more than one is an input error.
type VerificationRequest struct {
	CertificateID    string `json:"certificate_id,omitempty"`
	QRPayload        string `json:"qr_payload,omitempty"`
	VerificationCode string `json:"verification_code,omitempty"`
}

// ErrAmbiguousIdentifier is returned when a verification request does not
// carry exactly one identifier.
var ErrAmbiguousIdentifier = errors.New("exactly one of certificate_id, qr_payload or verification_code is required")

// Validate checks the one-identifier rule.
func (r VerificationRequest) Validate() error {
	n := 0
	if r.CertificateID != "" {
		n++
	}
	if r.QRPayload != "" {
		n++
	}
	if r.VerificationCode != "" {
		n++
	}
	if n != 1 {
		return ErrAmbiguousIdentifier
	}
	return nil
}

// FieldCheck records one off-chain vs on-chain field comparison. Similarity
// is only populated on mismatching string fields, as a hint whether the
// mismatch looks like a data-entry slip or wholesale tampering.
type FieldCheck struct {
	Field      string  `json:"field"`
	OffChain   string  `json:"off_chain"`
	OnChain    string  `json:"on_chain"`
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity,omitempty"`
}

// VerificationResult is the structured verdict returned to verification
// callers. Routine negatives (not found, not yet confirmed) are represented
// here, never as transport errors.
type VerificationResult struct {
	Status         string             `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	Certificate    *PublicCertificate `json:"certificate,omitempty"`
	ChainRef       *ChainRef          `json:"chain_ref,omitempty"`
	ExplorerUrl    string             `json:"explorer_url,omitempty"`
	CheckedOnChain bool               `json:"checked_on_chain"`
	Checks         []FieldCheck       `json:"checks,omitempty"`
}
