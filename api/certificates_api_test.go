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

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge"
	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/database/mocks"
	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(&s.Response); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T, secure bool) (*gin.Engine, *mocks.MockDataSource, *certforge.MockChainClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: secure, SecretKey: "test-secret"},
		Redis:  config.RedisConfig{Dns: mr.Addr()},
		Chain:  config.ChainConfig{Network: "sepolia", ExplorerUrl: "https://sepolia.etherscan.io"},
		Queue:  config.QueueConfig{MaxAttempts: 5, BackoffBaseSec: 30, BackoffCapSec: 1800, InsufficientFundsBackSec: 900, VisibilityTimeoutSec: 300},
		Wallet: config.WalletConfig{MinBalanceWei: "10", LowBalanceWei: "50"},
	})

	ds := new(mocks.MockDataSource)
	chainMock := new(certforge.MockChainClient)
	storeMock := new(certforge.MockMetadataStore)

	forge, err := certforge.NewCertforgeWithDeps(ds, chainMock, storeMock)
	require.NoError(t, err)

	router := NewAPI(forge).Router()
	return router, ds, chainMock
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer test-secret"}
}

func TestRecordCompletion(t *testing.T) {
	router, ds, _ := setupRouter(t, false)

	studentID := gofakeit.UUID()
	courseID := gofakeit.UUID()
	created := model.CertificateRecord{
		CertificateID:     "cert_" + gofakeit.UUID(),
		CertificateNumber: "CF-2025-9F2A41C7",
		StudentID:         studentID,
		CourseID:          courseID,
		CourseName:        "Distributed Systems",
		Status:            model.StatusPending,
	}

	ds.On("GetCertificateByStudentAndCourse", mock.Anything, studentID, courseID).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil))
	ds.On("CreateCertificate", mock.Anything, mock.Anything).Return(created, nil)
	ds.On("EnqueueJob", mock.Anything, created.CertificateID).
		Return(&model.MintJob{JobID: "job_1", CertificateID: created.CertificateID, State: model.JobStateEnqueued}, true, nil)
	ds.On("UpdateCertificateStatus", mock.Anything, created.CertificateID, model.StatusQueued).Return(nil)

	payload, err := json.Marshal(map[string]interface{}{
		"student_id":      studentID,
		"course_id":       courseID,
		"course_name":     "Distributed Systems",
		"instructor_name": gofakeit.Name(),
		"completion_date": time.Now().Format(time.RFC3339),
		"score":           92.5,
		"grade":           "A",
	})
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/completions",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, response, "certificate")
	assert.Contains(t, response, "job")
}

func TestRecordCompletionConcurrentDuplicate(t *testing.T) {
	router, ds, _ := setupRouter(t, false)

	studentID := gofakeit.UUID()
	courseID := gofakeit.UUID()
	winner := &model.CertificateRecord{
		CertificateID:     "cert_winner",
		CertificateNumber: "CF-2025-0B1C2D3E",
		StudentID:         studentID,
		CourseID:          courseID,
		CourseName:        "Distributed Systems",
		Status:            model.StatusQueued,
	}

	// Two completion events race: this request misses the lookup, then loses
	// the unique-index race on insert. It must adopt the winner's record
	// instead of surfacing a conflict.
	ds.On("GetCertificateByStudentAndCourse", mock.Anything, studentID, courseID).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil)).Once()
	ds.On("CreateCertificate", mock.Anything, mock.Anything).
		Return(model.CertificateRecord{}, apierror.NewAPIError(apierror.ErrConflict, "Certificate with this number already exists", nil))
	ds.On("GetCertificateByStudentAndCourse", mock.Anything, studentID, courseID).
		Return(winner, nil).Once()
	ds.On("EnqueueJob", mock.Anything, "cert_winner").
		Return(&model.MintJob{JobID: "job_1", CertificateID: "cert_winner", State: model.JobStateEnqueued}, false, nil)

	payload, err := json.Marshal(map[string]interface{}{
		"student_id":      studentID,
		"course_id":       courseID,
		"course_name":     "Distributed Systems",
		"instructor_name": gofakeit.Name(),
		"completion_date": time.Now().Format(time.RFC3339),
	})
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/completions",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)

	cert, ok := response["certificate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cert_winner", cert["certificate_id"])
	ds.AssertExpectations(t)
}

func TestRecordCompletionValidation(t *testing.T) {
	router, _, _ := setupRouter(t, false)

	// Missing student_id and course_id.
	payload := []byte(`{"course_name": "Distributed Systems"}`)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/completions",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetCertificate(t *testing.T) {
	router, ds, _ := setupRouter(t, false)

	cert := &model.CertificateRecord{
		CertificateID:     "cert_1",
		CertificateNumber: "CF-2025-9F2A41C7",
		Status:            model.StatusConfirmed,
	}
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	ds.On("GetCertificate", mock.Anything, "cert_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil))

	var response model.CertificateRecord
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/certificates/cert_1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "CF-2025-9F2A41C7", response.CertificateNumber)

	resp, err = SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/certificates/cert_missing",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestVerifyEndpointVerdicts(t *testing.T) {
	router, ds, _ := setupRouter(t, false)

	ds.On("GetCertificate", mock.Anything, "cert_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil))

	payload := []byte(`{"certificate_id": "cert_missing"}`)
	var response model.VerificationResult
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Router:   router,
		Response: &response,
		Method:   "POST",
		Route:    "/verify",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.VerdictInvalid, response.Status)
	assert.Equal(t, model.ReasonNotFound, response.Reason)

	// No identifier at all is an input error, not a verdict.
	resp, err = SetUpTestRequest(TestRequest{
		Payload: bytes.NewBuffer([]byte(`{}`)),
		Router:  router,
		Method:  "POST",
		Route:   "/verify",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatusEndpointDegradesWithoutRPC(t *testing.T) {
	router, ds, chainMock := setupRouter(t, false)

	ds.On("GetQueueStats", mock.Anything).Return(model.QueueStats{Pending: 2, InFlight: 1, Failed: 0}, nil)
	chainMock.On("Balance", mock.Anything).Return(nil, fmt.Errorf("connection refused"))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/status",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, response, "queue")
	assert.Equal(t, "sepolia", response["network"])

	wallet, ok := response["wallet"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, wallet, "error")
}

func TestGetFailedJobs(t *testing.T) {
	router, ds, _ := setupRouter(t, false)

	ds.On("GetFailedJobs", mock.Anything, 50).Return([]model.MintJob{
		{JobID: "job_1", CertificateID: "cert_1", State: model.JobStateFailed, Attempts: 5, LastError: "rpc timeout"},
	}, nil)

	var response []model.MintJob
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   "GET",
		Route:    "/jobs/failed",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, response, 1)
	assert.Equal(t, "rpc timeout", response[0].LastError)
}

func TestBearerAuth(t *testing.T) {
	router, ds, _ := setupRouter(t, true)

	ds.On("GetAllCertificates", mock.Anything, 50, 0).Return([]model.CertificateRecord{}, nil)

	// No token.
	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/certificates",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// Wrong token.
	resp, err = SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/certificates",
		Header: map[string]string{"Authorization": "Bearer wrong"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// Valid token.
	resp, err = SetUpTestRequest(TestRequest{
		Router: router,
		Method: "GET",
		Route:  "/certificates",
		Header: authHeader(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	// Verification stays public in secure mode.
	ds.On("GetCertificate", mock.Anything, "cert_x").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil))
	resp, err = SetUpTestRequest(TestRequest{
		Payload: bytes.NewBuffer([]byte(`{"certificate_id":"cert_x"}`)),
		Router:  router,
		Method:  "POST",
		Route:   "/verify",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
}
