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
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

const certificateColumns = `
	certificate_id, student_id, course_id, course_name, instructor_name,
	completion_date, score, grade, achievements, certificate_number, status,
	metadata_hash, tx_hash, block_number, contract_address, network_id,
	on_chain_id, verification_code, created_at, meta_data
`

// CreateCertificate inserts a new certificate record. The record id, number
// and verification code are assigned here and never change afterwards.
func (d Datasource) CreateCertificate(ctx context.Context, cert model.CertificateRecord) (model.CertificateRecord, error) {
	cert.CertificateID = model.GenerateUUIDWithSuffix("cert")
	if cert.CertificateNumber == "" {
		cert.CertificateNumber = model.GenerateCertificateNumber(time.Now())
	}
	cert.VerificationCode = model.GenerateVerificationCode(cert.CertificateID, cert.CertificateNumber)
	cert.Status = model.StatusPending
	cert.CreatedAt = time.Now()

	achievementsJSON, err := json.Marshal(cert.Achievements)
	if err != nil {
		return model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal achievements", err)
	}
	metaDataJSON, err := json.Marshal(cert.MetaData)
	if err != nil {
		return model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO certforge.certificates
			(certificate_id, student_id, course_id, course_name, instructor_name,
			 completion_date, score, grade, achievements, certificate_number,
			 status, verification_code, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, cert.CertificateID, cert.StudentID, cert.CourseID, cert.CourseName, cert.InstructorName,
		cert.CompletionDate, cert.Score, cert.Grade, achievementsJSON, cert.CertificateNumber,
		cert.Status, cert.VerificationCode, cert.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrConflict, "Certificate with this number already exists", err)
			default:
				return model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create certificate", err)
	}

	return cert, nil
}

// GetCertificate retrieves a certificate record by its ID.
func (d Datasource) GetCertificate(ctx context.Context, id string) (*model.CertificateRecord, error) {
	return d.getCertificateBy(ctx, "certificate_id", id)
}

// GetCertificateByNumber retrieves a certificate record by its human-facing number.
func (d Datasource) GetCertificateByNumber(ctx context.Context, number string) (*model.CertificateRecord, error) {
	return d.getCertificateBy(ctx, "certificate_number", number)
}

// GetCertificateByVerificationCode retrieves a certificate record by its verification code.
func (d Datasource) GetCertificateByVerificationCode(ctx context.Context, code string) (*model.CertificateRecord, error) {
	return d.getCertificateBy(ctx, "verification_code", code)
}

func (d Datasource) getCertificateBy(ctx context.Context, column, value string) (*model.CertificateRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certforge.certificates
		WHERE `+column+` = $1
	`, value)

	cert, err := scanCertificate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve certificate", err)
	}
	return cert, nil
}

// GetCertificateByStudentAndCourse returns the certificate for a
// student/course pair, used to guard against duplicate completion events
// creating a second record.
func (d Datasource) GetCertificateByStudentAndCourse(ctx context.Context, studentID, courseID string) (*model.CertificateRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certforge.certificates
		WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)

	cert, err := scanCertificate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve certificate", err)
	}
	return cert, nil
}

// GetAllCertificates retrieves certificate records, newest first.
func (d Datasource) GetAllCertificates(ctx context.Context, limit, offset int) ([]model.CertificateRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certforge.certificates
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve certificates", err)
	}
	defer rows.Close()

	certificates := []model.CertificateRecord{}
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan certificate data", err)
		}
		certificates = append(certificates, *cert)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over certificates", err)
	}

	return certificates, nil
}

// UpdateCertificateStatus updates the lifecycle status of a certificate.
// Confirmed records are never moved by this method; ConfirmCertificate is the
// only way in, and there is no way out.
func (d Datasource) UpdateCertificateStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.certificates
		SET status = $2
		WHERE certificate_id = $1 AND status != $3
	`, id, status, model.StatusConfirmed)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update certificate status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found or already confirmed", nil)
	}
	return nil
}

// SetMetadataHash records the content-store hash for a certificate. The hash
// is write-once: a second call with a different value does not overwrite.
func (d Datasource) SetMetadataHash(ctx context.Context, id string, hash string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.certificates
		SET metadata_hash = $2
		WHERE certificate_id = $1 AND (metadata_hash IS NULL OR metadata_hash = '' OR metadata_hash = $2)
	`, id, hash)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set metadata hash", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Metadata hash already set to a different value", nil)
	}
	return nil
}

// ConfirmCertificate writes the chain reference and flips the record to
// confirmed in one statement, keeping the chainRef-iff-confirmed invariant.
func (d Datasource) ConfirmCertificate(ctx context.Context, id string, ref model.ChainRef) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE certforge.certificates
		SET status = $2, tx_hash = $3, block_number = $4, contract_address = $5, network_id = $6, on_chain_id = $7
		WHERE certificate_id = $1
	`, id, model.StatusConfirmed, ref.TxHash, ref.BlockNumber, ref.ContractAddress, ref.NetworkID, ref.OnChainID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm certificate", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCertificate(row rowScanner) (*model.CertificateRecord, error) {
	cert := model.CertificateRecord{}
	var achievementsJSON, metaDataJSON []byte
	var metadataHash, txHash, contractAddress, networkID, onChainID, instructorName, grade sql.NullString
	var blockNumber sql.NullInt64

	err := row.Scan(
		&cert.CertificateID, &cert.StudentID, &cert.CourseID, &cert.CourseName, &instructorName,
		&cert.CompletionDate, &cert.Score, &grade, &achievementsJSON, &cert.CertificateNumber, &cert.Status,
		&metadataHash, &txHash, &blockNumber, &contractAddress, &networkID,
		&onChainID, &cert.VerificationCode, &cert.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	cert.InstructorName = instructorName.String
	cert.Grade = grade.String
	cert.MetadataHash = metadataHash.String

	if len(achievementsJSON) > 0 {
		if err := json.Unmarshal(achievementsJSON, &cert.Achievements); err != nil {
			return nil, err
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &cert.MetaData); err != nil {
			return nil, err
		}
	}

	if cert.Status == model.StatusConfirmed && txHash.Valid {
		cert.ChainRef = &model.ChainRef{
			TxHash:          txHash.String,
			BlockNumber:     uint64(blockNumber.Int64),
			ContractAddress: contractAddress.String,
			NetworkID:       networkID.String,
			OnChainID:       onChainID.String,
		}
	}

	return &cert, nil
}
