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

// Package metadata uploads canonical certificate metadata to a
// content-addressed store and returns the resulting hash. The hash is what
// gets written on-chain, so the payload must serialize identically for the
// same certificate every time.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/model"
)

// Store is a content-addressed metadata store. Upload is idempotent: the same
// payload always maps to the same hash, so re-uploading after a crash is safe.
type Store interface {
	Upload(ctx context.Context, cert *model.CertificateRecord) (string, error)
}

// payload is the canonical metadata document uploaded for a certificate.
// Field order is fixed by the struct; never reorder these, the serialized
// bytes feed the content hash.
type payload struct {
	CertificateID     string    `json:"certificate_id"`
	CertificateNumber string    `json:"certificate_number"`
	StudentID         string    `json:"student_id"`
	CourseID          string    `json:"course_id"`
	CourseName        string    `json:"course_name"`
	InstructorName    string    `json:"instructor_name,omitempty"`
	CompletionDate    time.Time `json:"completion_date"`
	Score             float64   `json:"score"`
	Grade             string    `json:"grade,omitempty"`
	Achievements      []string  `json:"achievements,omitempty"`
}

// CanonicalPayload serializes the certificate's on-chain metadata document.
func CanonicalPayload(cert *model.CertificateRecord) ([]byte, error) {
	return json.Marshal(payload{
		CertificateID:     cert.CertificateID,
		CertificateNumber: cert.CertificateNumber,
		StudentID:         cert.StudentID,
		CourseID:          cert.CourseID,
		CourseName:        cert.CourseName,
		InstructorName:    cert.InstructorName,
		CompletionDate:    cert.CompletionDate.UTC(),
		Score:             cert.Score,
		Grade:             cert.Grade,
		Achievements:      cert.Achievements,
	})
}

// NewStore builds the configured store implementation.
func NewStore(conf config.MetadataStoreConfig) (Store, error) {
	switch conf.Provider {
	case "ipfs", "":
		return NewIPFSStore(conf), nil
	case "s3":
		return NewS3Store(conf.S3)
	default:
		return nil, fmt.Errorf("unknown metadata store provider %q", conf.Provider)
	}
}
