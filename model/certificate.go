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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Certificate lifecycle statuses. A record starts as pending, is queued once
// a mint job exists for it, moves to minting while a worker holds the job and
// lands in confirmed or failed.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusMinting   = "minting"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// ChainRef is the on-chain anchor of a confirmed certificate. It is persisted
// in the same update that flips the record to confirmed, so it is present if
// and only if the status is confirmed.
type ChainRef struct {
	TxHash          string `json:"tx_hash"`
	BlockNumber     uint64 `json:"block_number"`
	ContractAddress string `json:"contract_address"`
	NetworkID       string `json:"network_id"`
	OnChainID       string `json:"on_chain_id"`
}

// CertificateRecord is the off-chain record of one completed course for one
// student. CertificateID and CertificateNumber are immutable once assigned;
// MetadataHash is written once when the metadata upload succeeds.
type CertificateRecord struct {
	CertificateID     string                 `json:"certificate_id"`
	StudentID         string                 `json:"student_id"`
	CourseID          string                 `json:"course_id"`
	CourseName        string                 `json:"course_name"`
	InstructorName    string                 `json:"instructor_name"`
	CompletionDate    time.Time              `json:"completion_date"`
	Score             float64                `json:"score"`
	Grade             string                 `json:"grade"`
	Achievements      []string               `json:"achievements"`
	CertificateNumber string                 `json:"certificate_number"`
	Status            string                 `json:"status"`
	MetadataHash      string                 `json:"metadata_hash,omitempty"`
	ChainRef          *ChainRef              `json:"chain_ref,omitempty"`
	VerificationCode  string                 `json:"verification_code"`
	CreatedAt         time.Time              `json:"created_at"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

// PublicCertificate is the subset of a certificate safe to return to
// anonymous verification callers.
type PublicCertificate struct {
	CertificateNumber string    `json:"certificate_number"`
	StudentID         string    `json:"student_id"`
	CourseID          string    `json:"course_id"`
	CourseName        string    `json:"course_name"`
	InstructorName    string    `json:"instructor_name"`
	CompletionDate    time.Time `json:"completion_date"`
	Score             float64   `json:"score"`
	Grade             string    `json:"grade"`
	Achievements      []string  `json:"achievements"`
}

// Public returns the externally visible fields of the certificate.
func (c *CertificateRecord) Public() PublicCertificate {
	return PublicCertificate{
		CertificateNumber: c.CertificateNumber,
		StudentID:         c.StudentID,
		CourseID:          c.CourseID,
		CourseName:        c.CourseName,
		InstructorName:    c.InstructorName,
		CompletionDate:    c.CompletionDate,
		Score:             c.Score,
		Grade:             c.Grade,
		Achievements:      c.Achievements,
	}
}

// GenerateCertificateNumber produces the human-facing certificate number,
// e.g. CF-2025-9F2A41C7. Uniqueness is enforced by the database.
func GenerateCertificateNumber(t time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("CF-%d-%s", t.Year(), strings.ToUpper(hex.EncodeToString(buf)))
}

// GenerateVerificationCode derives the stable out-of-band verification code
// from the two immutable identifiers of a certificate. The same record always
// derives the same code.
func GenerateVerificationCode(certificateID, certificateNumber string) string {
	sum := sha256.Sum256([]byte(certificateID + "|" + certificateNumber))
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return code[:12]
}

const qrPayloadPrefix = "CFV1"

// QRPayload renders the payload embedded in a certificate's QR code.
func (c *CertificateRecord) QRPayload() string {
	return fmt.Sprintf("%s:%s:%s", qrPayloadPrefix, c.CertificateNumber, c.VerificationCode)
}

// ParseQRPayload splits a scanned QR payload into certificate number and
// verification code.
func ParseQRPayload(payload string) (certificateNumber, verificationCode string, err error) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	if len(parts) != 3 || parts[0] != qrPayloadPrefix {
		return "", "", fmt.Errorf("malformed QR payload")
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed QR payload")
	}
	return parts[1], parts[2], nil
}
