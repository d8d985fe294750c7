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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func certificateRows(cert model.CertificateRecord) *sqlmock.Rows {
	achievementsJSON, _ := json.Marshal(cert.Achievements)
	metaDataJSON, _ := json.Marshal(cert.MetaData)

	var txHash, contractAddress, networkID, onChainID interface{}
	var blockNumber interface{}
	if cert.ChainRef != nil {
		txHash = cert.ChainRef.TxHash
		blockNumber = int64(cert.ChainRef.BlockNumber)
		contractAddress = cert.ChainRef.ContractAddress
		networkID = cert.ChainRef.NetworkID
		onChainID = cert.ChainRef.OnChainID
	}

	return sqlmock.NewRows([]string{
		"certificate_id", "student_id", "course_id", "course_name", "instructor_name",
		"completion_date", "score", "grade", "achievements", "certificate_number", "status",
		"metadata_hash", "tx_hash", "block_number", "contract_address", "network_id",
		"on_chain_id", "verification_code", "created_at", "meta_data",
	}).AddRow(
		cert.CertificateID, cert.StudentID, cert.CourseID, cert.CourseName, cert.InstructorName,
		cert.CompletionDate, cert.Score, cert.Grade, achievementsJSON, cert.CertificateNumber, cert.Status,
		cert.MetadataHash, txHash, blockNumber, contractAddress, networkID,
		onChainID, cert.VerificationCode, cert.CreatedAt, metaDataJSON,
	)
}

func TestCreateCertificate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	cert := model.CertificateRecord{
		StudentID:      "std_123",
		CourseID:       "crs_456",
		CourseName:     "Distributed Systems",
		InstructorName: "Ada Lovelace",
		CompletionDate: time.Now(),
		Score:          92.5,
		Grade:          "A",
		Achievements:   []string{"top-of-class"},
		MetaData:       map[string]interface{}{"cohort": "2025-spring"},
	}

	mock.ExpectExec("INSERT INTO certforge.certificates").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateCertificate(context.Background(), cert)
	assert.NoError(t, err)
	assert.NotEmpty(t, created.CertificateID)
	assert.Contains(t, created.CertificateID, "cert_")
	assert.NotEmpty(t, created.CertificateNumber)
	assert.NotEmpty(t, created.VerificationCode)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.GenerateVerificationCode(created.CertificateID, created.CertificateNumber), created.VerificationCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCertificate_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO certforge.certificates").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	_, err = ds.CreateCertificate(context.Background(), model.CertificateRecord{
		StudentID:      "std_123",
		CourseID:       "crs_456",
		CourseName:     "Distributed Systems",
		CompletionDate: time.Now(),
	})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestGetCertificate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	cert := model.CertificateRecord{
		CertificateID:     "cert_1",
		StudentID:         "std_1",
		CourseID:          "crs_1",
		CourseName:        "Go Programming",
		InstructorName:    "Rob",
		CompletionDate:    time.Now(),
		Score:             88,
		Grade:             "B+",
		CertificateNumber: "CF-2025-DEADBEEF",
		Status:            model.StatusPending,
		VerificationCode:  "ABCDEF123456",
		CreatedAt:         time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM certforge.certificates WHERE certificate_id = \\$1").
		WithArgs("cert_1").
		WillReturnRows(certificateRows(cert))

	got, err := ds.GetCertificate(context.Background(), "cert_1")
	assert.NoError(t, err)
	assert.Equal(t, "cert_1", got.CertificateID)
	assert.Equal(t, "Go Programming", got.CourseName)
	assert.Nil(t, got.ChainRef)
}

func TestGetCertificate_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM certforge.certificates WHERE certificate_id = \\$1").
		WithArgs("cert_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetCertificate(context.Background(), "cert_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetCertificate_ConfirmedCarriesChainRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	cert := model.CertificateRecord{
		CertificateID:     "cert_2",
		StudentID:         "std_2",
		CourseID:          "crs_2",
		CourseName:        "Cryptography",
		CompletionDate:    time.Now(),
		CertificateNumber: "CF-2025-CAFEBABE",
		Status:            model.StatusConfirmed,
		VerificationCode:  "XYZXYZ123456",
		CreatedAt:         time.Now(),
		ChainRef: &model.ChainRef{
			TxHash:          "0xabc",
			BlockNumber:     42,
			ContractAddress: "0xcontract",
			NetworkID:       "11155111",
			OnChainID:       "7",
		},
	}

	mock.ExpectQuery("SELECT .* FROM certforge.certificates WHERE verification_code = \\$1").
		WithArgs("XYZXYZ123456").
		WillReturnRows(certificateRows(cert))

	got, err := ds.GetCertificateByVerificationCode(context.Background(), "XYZXYZ123456")
	assert.NoError(t, err)
	assert.NotNil(t, got.ChainRef)
	assert.Equal(t, "0xabc", got.ChainRef.TxHash)
	assert.Equal(t, uint64(42), got.ChainRef.BlockNumber)
}

func TestGetAllCertificates_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	first := model.CertificateRecord{
		CertificateID: "cert_1", StudentID: "std_1", CourseID: "crs_1",
		CourseName: "Go", CompletionDate: time.Now(), CertificateNumber: "CF-2025-00000001",
		Status: model.StatusPending, VerificationCode: "CODE00000001", CreatedAt: time.Now(),
	}
	second := first
	second.CertificateID = "cert_2"
	second.CertificateNumber = "CF-2025-00000002"
	second.VerificationCode = "CODE00000002"

	rows := certificateRows(first)
	achievementsJSON, _ := json.Marshal(second.Achievements)
	metaDataJSON, _ := json.Marshal(second.MetaData)
	rows.AddRow(
		second.CertificateID, second.StudentID, second.CourseID, second.CourseName, second.InstructorName,
		second.CompletionDate, second.Score, second.Grade, achievementsJSON, second.CertificateNumber, second.Status,
		second.MetadataHash, nil, nil, nil, nil,
		nil, second.VerificationCode, second.CreatedAt, metaDataJSON,
	)

	mock.ExpectQuery("SELECT .* FROM certforge.certificates ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(2, 0).
		WillReturnRows(rows)

	certificates, err := ds.GetAllCertificates(context.Background(), 2, 0)
	assert.NoError(t, err)
	assert.Len(t, certificates, 2)
	assert.Equal(t, "cert_1", certificates[0].CertificateID)
}

func TestUpdateCertificateStatus_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE certforge.certificates SET status").
		WithArgs("cert_1", model.StatusMinting, model.StatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateCertificateStatus(context.Background(), "cert_1", model.StatusMinting)
	assert.NoError(t, err)
}

func TestUpdateCertificateStatus_ConfirmedIsImmutable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// The guard clause excludes confirmed rows, so the update touches nothing.
	mock.ExpectExec("UPDATE certforge.certificates SET status").
		WithArgs("cert_confirmed", model.StatusFailed, model.StatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateCertificateStatus(context.Background(), "cert_confirmed", model.StatusFailed)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestSetMetadataHash_WriteOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE certforge.certificates SET metadata_hash").
		WithArgs("cert_1", "QmHash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.SetMetadataHash(context.Background(), "cert_1", "QmHash"))

	mock.ExpectExec("UPDATE certforge.certificates SET metadata_hash").
		WithArgs("cert_1", "QmOtherHash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.SetMetadataHash(context.Background(), "cert_1", "QmOtherHash")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestConfirmCertificate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	ref := model.ChainRef{
		TxHash:          "0xdeadbeef",
		BlockNumber:     100,
		ContractAddress: "0xcontract",
		NetworkID:       "11155111",
		OnChainID:       "12",
	}

	mock.ExpectExec("UPDATE certforge.certificates").
		WithArgs("cert_1", model.StatusConfirmed, ref.TxHash, ref.BlockNumber, ref.ContractAddress, ref.NetworkID, ref.OnChainID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.ConfirmCertificate(context.Background(), "cert_1", ref)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
