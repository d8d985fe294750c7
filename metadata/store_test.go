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

package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awsrequest "github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/model"
)

func sampleCertificate() *model.CertificateRecord {
	return &model.CertificateRecord{
		CertificateID:     "cert_1",
		CertificateNumber: "CF-2025-DEADBEEF",
		StudentID:         "std_1",
		CourseID:          "crs_1",
		CourseName:        "Distributed Systems",
		InstructorName:    "Ada Lovelace",
		CompletionDate:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Score:             92.5,
		Grade:             "A",
		Achievements:      []string{"top-of-class"},
	}
}

func TestCanonicalPayload_Deterministic(t *testing.T) {
	cert := sampleCertificate()

	first, err := CanonicalPayload(cert)
	require.NoError(t, err)
	second, err := CanonicalPayload(cert)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), `"certificate_id":"cert_1"`)
	assert.Contains(t, string(first), `"completion_date":"2025-03-01T12:00:00Z"`)
}

func TestCanonicalPayload_ExcludesMutableFields(t *testing.T) {
	cert := sampleCertificate()
	cert.Status = model.StatusConfirmed
	cert.MetadataHash = "QmShouldNotAppear"

	body, err := CanonicalPayload(cert)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "QmShouldNotAppear")
	assert.NotContains(t, string(body), model.StatusConfirmed)
}

func TestNewStore_ProviderSelection(t *testing.T) {
	store, err := NewStore(config.MetadataStoreConfig{Provider: "ipfs", IpfsApiUrl: "http://localhost:5001"})
	assert.NoError(t, err)
	assert.IsType(t, &IPFSStore{}, store)

	store, err = NewStore(config.MetadataStoreConfig{Provider: "s3", S3: config.S3StoreConfig{Region: "us-east-1", Bucket: "certs"}})
	assert.NoError(t, err)
	assert.IsType(t, &S3Store{}, store)

	_, err = NewStore(config.MetadataStoreConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestIPFSStore_Upload(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://localhost:5001/api/v0/add",
		httpmock.NewStringResponder(200, `{"Name":"cert_1.json","Hash":"QmTestHash123","Size":"512"}`))

	store := NewIPFSStore(config.MetadataStoreConfig{IpfsApiUrl: "http://localhost:5001", Timeout: 5})

	hash, err := store.Upload(context.Background(), sampleCertificate())
	assert.NoError(t, err)
	assert.Equal(t, "QmTestHash123", hash)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIPFSStore_UploadNodeError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://localhost:5001/api/v0/add",
		httpmock.NewStringResponder(500, `{}`))

	store := NewIPFSStore(config.MetadataStoreConfig{IpfsApiUrl: "http://localhost:5001", Timeout: 5})

	_, err := store.Upload(context.Background(), sampleCertificate())
	assert.Error(t, err)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...awsrequest.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = input
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_UploadKeysBySha256(t *testing.T) {
	fake := &fakeS3{}
	store := &S3Store{client: fake, bucket: "certs"}

	cert := sampleCertificate()
	body, err := CanonicalPayload(cert)
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	wantHash := hex.EncodeToString(sum[:])

	hash, err := store.Upload(context.Background(), cert)
	assert.NoError(t, err)
	assert.Equal(t, wantHash, hash)
	require.NotNil(t, fake.input)
	assert.Equal(t, "certs", aws.StringValue(fake.input.Bucket))
	assert.Equal(t, "metadata/"+wantHash+".json", aws.StringValue(fake.input.Key))
}
