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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/model"
)

// S3Store keeps metadata blobs in a bucket keyed by the sha256 of their
// content, so the object key doubles as the metadata hash.
type S3Store struct {
	client s3iface
	bucket string
}

// s3iface is the slice of the S3 client the store uses; tests substitute a fake.
type s3iface interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

func NewS3Store(conf config.S3StoreConfig) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region:      aws.String(conf.Region),
		Credentials: credentials.NewStaticCredentials(conf.AccessKeyId, conf.SecretAccessKey, ""),
	}
	if conf.Endpoint != "" {
		awsConfig.Endpoint = aws.String(conf.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create s3 session")
	}

	return &S3Store{client: s3.New(sess), bucket: conf.Bucket}, nil
}

// Upload writes the canonical payload under its own sha256. Re-uploading the
// same certificate overwrites the object with identical bytes, so the
// operation stays idempotent.
func (s *S3Store) Upload(ctx context.Context, cert *model.CertificateRecord) (string, error) {
	body, err := CanonicalPayload(cert)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize metadata payload")
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fmt.Sprintf("metadata/%s.json", hash)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to upload metadata to s3")
	}

	logrus.WithFields(logrus.Fields{
		"certificate_id": cert.CertificateID,
		"metadata_hash":  hash,
	}).Info("metadata uploaded to s3")

	return hash, nil
}
