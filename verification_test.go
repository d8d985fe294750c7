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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/chain"
	"github.com/certforge/certforge/internal/apierror"
	"github.com/certforge/certforge/model"
)

func confirmedCertificate() *model.CertificateRecord {
	return &model.CertificateRecord{
		CertificateID:     "cert_1",
		CertificateNumber: "CF-2025-DEADBEEF",
		StudentID:         "std_1",
		CourseID:          "crs_1",
		CourseName:        "Distributed Systems",
		Status:            model.StatusConfirmed,
		MetadataHash:      "QmHash",
		VerificationCode:  "CODE00000001",
		ChainRef: &model.ChainRef{
			TxHash:          "0xabc",
			BlockNumber:     100,
			ContractAddress: "0xcontract",
			NetworkID:       "11155111",
			OnChainID:       "42",
		},
	}
}

// onChainTwin mirrors confirmedCertificate as the registry contract returns it.
func onChainTwin() *chain.OnChainCertificate {
	return &chain.OnChainCertificate{
		Student:      "std_1",
		CourseName:   "Distributed Systems",
		MetadataHash: "QmHash",
		IsValid:      true,
	}
}

func TestVerify_RejectsAmbiguousRequest(t *testing.T) {
	forge, _, _, _ := newTestForge(t)

	_, err := forge.Verify(context.Background(), model.VerificationRequest{})
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)

	_, err = forge.Verify(context.Background(), model.VerificationRequest{
		CertificateID:    "cert_1",
		VerificationCode: "CODE00000001",
	})
	assert.Error(t, err)
}

func TestVerify_UnknownCertificateIsInvalidNotFound(t *testing.T) {
	forge, ds, _, _ := newTestForge(t)

	ds.On("GetCertificate", mock.Anything, "cert_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil))

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_missing"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInvalid, result.Status)
	assert.Equal(t, model.ReasonNotFound, result.Reason)
	assert.Nil(t, result.Certificate)
}

func TestVerify_PendingCertificate(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	cert.Status = model.StatusMinting
	cert.ChainRef = nil
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPending, result.Status)
	assert.Equal(t, model.ReasonNotYetConfirmed, result.Reason)
	require.NotNil(t, result.Certificate)
	assert.Equal(t, "CF-2025-DEADBEEF", result.Certificate.CertificateNumber)
	chainMock.AssertNotCalled(t, "GetCertificate", mock.Anything, mock.Anything)
}

func TestVerify_ConfirmedCertificateCrossChecksChain(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(onChainTwin(), nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictValid, result.Status)
	assert.Empty(t, result.Reason)
	assert.True(t, result.CheckedOnChain)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/0xabc", result.ExplorerUrl)
	require.Len(t, result.Checks, 3)
	for _, check := range result.Checks {
		assert.True(t, check.Match)
	}
}

func TestVerify_TamperedOffChainFieldIsDataMismatch(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	// The database row was edited after confirmation; the contract still holds
	// the values written at mint time.
	cert := confirmedCertificate()
	cert.CourseName = "Totally Different Course"
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(onChainTwin(), nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInvalid, result.Status)
	assert.Equal(t, model.ReasonDataMismatch, result.Reason)
	assert.True(t, result.CheckedOnChain)

	var mismatch *model.FieldCheck
	for i := range result.Checks {
		if !result.Checks[i].Match {
			mismatch = &result.Checks[i]
		}
	}
	require.NotNil(t, mismatch)
	assert.Equal(t, "course_name", mismatch.Field)
	assert.Equal(t, "Distributed Systems", mismatch.OnChain)
}

func TestVerify_RevokedOnChainIsInvalid(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	revoked := onChainTwin()
	revoked.IsValid = false
	chainMock.On("GetCertificate", mock.Anything, "42").Return(revoked, nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInvalid, result.Status)
	assert.Equal(t, model.ReasonDataMismatch, result.Reason)
	assert.True(t, result.CheckedOnChain)
}

func TestVerify_DataMismatchScoresSimilarity(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	drifted := onChainTwin()
	drifted.MetadataHash = "QmHasX" // one character off
	chainMock.On("GetCertificate", mock.Anything, "42").Return(drifted, nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInvalid, result.Status)
	assert.Equal(t, model.ReasonDataMismatch, result.Reason)
	assert.True(t, result.CheckedOnChain)

	var mismatch *model.FieldCheck
	for i := range result.Checks {
		if !result.Checks[i].Match {
			mismatch = &result.Checks[i]
		}
	}
	require.NotNil(t, mismatch)
	assert.Equal(t, "metadata_hash", mismatch.Field)
	assert.Greater(t, mismatch.Similarity, 0.5)
}

// recordingCache captures what Verify stores and for how long. Get always
// misses so every call reaches the chain.
type recordingCache struct {
	ttls map[string]time.Duration
}

func (c *recordingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.ttls[key] = ttl
	return nil
}

func (c *recordingCache) Get(ctx context.Context, key string, data interface{}) error { return nil }

func (c *recordingCache) Delete(ctx context.Context, key string) error { return nil }

func TestVerify_CrossCheckResultCachedBriefly(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)
	spy := &recordingCache{ttls: map[string]time.Duration{}}
	forge.cache = spy

	cert := confirmedCertificate()
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(onChainTwin(), nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	_, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)

	// A revocation must show up within half a minute, so the cross-check
	// result is only ever cached that long.
	assert.Equal(t, 30*time.Second, spy.ttls[verificationCacheKey("cert_1")])
}

func TestVerify_ChainUnavailableDegrades(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificate", mock.Anything, "cert_1").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(nil, errors.New("connection refused"))
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{CertificateID: "cert_1"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictValid, result.Status)
	assert.Equal(t, model.ReasonChainUnavailable, result.Reason)
	assert.False(t, result.CheckedOnChain)
	require.NotNil(t, result.Certificate)
	assert.NotNil(t, result.ChainRef)
}

func TestVerify_QRPayloadResolvesByNumber(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificateByNumber", mock.Anything, "CF-2025-DEADBEEF").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(onChainTwin(), nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{QRPayload: cert.QRPayload()})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictValid, result.Status)
}

func TestVerify_QRPayloadWithForgedCodeIsInvalid(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificateByNumber", mock.Anything, "CF-2025-DEADBEEF").Return(cert, nil)

	result, err := forge.Verify(context.Background(), model.VerificationRequest{
		QRPayload: "CFV1:CF-2025-DEADBEEF:WRONGCODE123",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInvalid, result.Status)
	assert.Equal(t, model.ReasonNotFound, result.Reason)
	chainMock.AssertNotCalled(t, "GetCertificate", mock.Anything, mock.Anything)
}

func TestVerify_MalformedQRPayloadIsBadRequest(t *testing.T) {
	forge, _, _, _ := newTestForge(t)

	_, err := forge.Verify(context.Background(), model.VerificationRequest{QRPayload: "not-a-payload"})
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestVerify_VerificationCodeLookup(t *testing.T) {
	forge, ds, chainMock, _ := newTestForge(t)

	cert := confirmedCertificate()
	ds.On("GetCertificateByVerificationCode", mock.Anything, "CODE00000001").Return(cert, nil)
	chainMock.On("GetCertificate", mock.Anything, "42").Return(onChainTwin(), nil)
	chainMock.On("ExplorerTxUrl", "0xabc").Return("https://sepolia.etherscan.io/tx/0xabc")

	result, err := forge.Verify(context.Background(), model.VerificationRequest{VerificationCode: "CODE00000001"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictValid, result.Status)
	assert.True(t, result.CheckedOnChain)
}
