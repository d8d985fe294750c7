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
package mocks

import (
	"context"
	"time"

	"github.com/certforge/certforge/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Certificate methods

func (m *MockDataSource) CreateCertificate(ctx context.Context, cert model.CertificateRecord) (model.CertificateRecord, error) {
	args := m.Called(ctx, cert)
	return args.Get(0).(model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) GetCertificate(ctx context.Context, id string) (*model.CertificateRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) GetCertificateByNumber(ctx context.Context, number string) (*model.CertificateRecord, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) GetCertificateByVerificationCode(ctx context.Context, code string) (*model.CertificateRecord, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) GetCertificateByStudentAndCourse(ctx context.Context, studentID, courseID string) (*model.CertificateRecord, error) {
	args := m.Called(ctx, studentID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) GetAllCertificates(ctx context.Context, limit, offset int) ([]model.CertificateRecord, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.CertificateRecord), args.Error(1)
}

func (m *MockDataSource) UpdateCertificateStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) SetMetadataHash(ctx context.Context, id string, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func (m *MockDataSource) ConfirmCertificate(ctx context.Context, id string, ref model.ChainRef) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

// Mint-job queue methods

func (m *MockDataSource) EnqueueJob(ctx context.Context, certificateID string) (*model.MintJob, bool, error) {
	args := m.Called(ctx, certificateID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.MintJob), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) DequeueNextJob(ctx context.Context, visibility time.Duration) (*model.MintJob, error) {
	args := m.Called(ctx, visibility)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MintJob), args.Error(1)
}

func (m *MockDataSource) AckJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockDataSource) NackJob(ctx context.Context, jobID string, nextRetryAt time.Time, lastError string, maxAttempts int) (*model.MintJob, error) {
	args := m.Called(ctx, jobID, nextRetryAt, lastError, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MintJob), args.Error(1)
}

func (m *MockDataSource) FailJob(ctx context.Context, jobID string, reason string) error {
	args := m.Called(ctx, jobID, reason)
	return args.Error(0)
}

func (m *MockDataSource) UpdateJobState(ctx context.Context, jobID string, state string) error {
	args := m.Called(ctx, jobID, state)
	return args.Error(0)
}

func (m *MockDataSource) RecordJobTxHash(ctx context.Context, jobID string, txHash string) error {
	args := m.Called(ctx, jobID, txHash)
	return args.Error(0)
}

func (m *MockDataSource) GetJob(ctx context.Context, jobID string) (*model.MintJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MintJob), args.Error(1)
}

func (m *MockDataSource) GetActiveJobByCertificateID(ctx context.Context, certificateID string) (*model.MintJob, error) {
	args := m.Called(ctx, certificateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MintJob), args.Error(1)
}

func (m *MockDataSource) GetQueueStats(ctx context.Context) (model.QueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.QueueStats), args.Error(1)
}

func (m *MockDataSource) GetFailedJobs(ctx context.Context, limit int) ([]model.MintJob, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.MintJob), args.Error(1)
}
