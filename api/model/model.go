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
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/certforge/certforge/model"
)

// RecordCompletion is the course-completion intake payload. CompletionDate is
// RFC 3339; an empty date defaults to now.
type RecordCompletion struct {
	StudentID      string                 `json:"student_id"`
	CourseID       string                 `json:"course_id"`
	CourseName     string                 `json:"course_name"`
	InstructorName string                 `json:"instructor_name"`
	CompletionDate string                 `json:"completion_date"`
	Score          float64                `json:"score"`
	Grade          string                 `json:"grade"`
	Achievements   []string               `json:"achievements"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func (r *RecordCompletion) ValidateRecordCompletion() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.StudentID, validation.Required),
		validation.Field(&r.CourseID, validation.Required),
		validation.Field(&r.CourseName, validation.Required),
		validation.Field(&r.Score, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&r.CompletionDate, validation.When(r.CompletionDate != "", validation.By(func(value interface{}) error {
			dateStr, ok := value.(string)
			if !ok {
				return errors.New("invalid type for completion date")
			}
			if _, err := time.Parse(time.RFC3339, dateStr); err != nil {
				return errors.New("please format the completion date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2025-04-22T15:28:03+00:00)")
			}
			return nil
		}))),
	)
}

// ToCertificateRecord converts the intake payload into a certificate record.
func (r *RecordCompletion) ToCertificateRecord() model.CertificateRecord {
	completionDate := time.Now()
	if r.CompletionDate != "" {
		if parsed, err := time.Parse(time.RFC3339, r.CompletionDate); err == nil {
			completionDate = parsed
		}
	}
	return model.CertificateRecord{
		StudentID:      r.StudentID,
		CourseID:       r.CourseID,
		CourseName:     r.CourseName,
		InstructorName: r.InstructorName,
		CompletionDate: completionDate,
		Score:          r.Score,
		Grade:          r.Grade,
		Achievements:   r.Achievements,
		MetaData:       r.MetaData,
	}
}

// VerifyRequest is the public verification payload. Exactly one identifier is
// required; the service enforces the rule, this just shapes the JSON.
type VerifyRequest struct {
	CertificateID    string `json:"certificate_id"`
	QRPayload        string `json:"qr_payload"`
	VerificationCode string `json:"verification_code"`
}

// ToVerificationRequest converts the payload into the service request.
func (r *VerifyRequest) ToVerificationRequest() model.VerificationRequest {
	return model.VerificationRequest{
		CertificateID:    r.CertificateID,
		QRPayload:        r.QRPayload,
		VerificationCode: r.VerificationCode,
	}
}

// ProcessRequest bounds a synchronous processing run.
type ProcessRequest struct {
	Batch int `json:"batch"`
}

func (r *ProcessRequest) ValidateProcessRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Batch, validation.Min(0), validation.Max(100)),
	)
}
