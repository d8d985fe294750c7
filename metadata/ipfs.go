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
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/internal/request"
	"github.com/certforge/certforge/model"
)

// IPFSStore uploads metadata through an IPFS node's HTTP API. The node pins
// the content and the returned CID is the metadata hash.
type IPFSStore struct {
	apiUrl  string
	timeout time.Duration
}

func NewIPFSStore(conf config.MetadataStoreConfig) *IPFSStore {
	timeout := time.Duration(conf.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IPFSStore{
		apiUrl:  strings.TrimSuffix(conf.IpfsApiUrl, "/"),
		timeout: timeout,
	}
}

type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Upload adds the canonical payload to the IPFS node with pinning enabled and
// returns the CID. Adding the same bytes twice yields the same CID, which is
// what makes retried uploads safe.
func (s *IPFSStore) Upload(ctx context.Context, cert *model.CertificateRecord) (string, error) {
	body, err := CanonicalPayload(cert)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize metadata payload")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fmt.Sprintf("%s.json", cert.CertificateID))
	if err != nil {
		return "", errors.Wrap(err, "failed to build upload form")
	}
	if _, err := part.Write(body); err != nil {
		return "", errors.Wrap(err, "failed to write upload form")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v0/add?pin=true", s.apiUrl), &buf)
	if err != nil {
		return "", errors.Wrap(err, "failed to build ipfs request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var response ipfsAddResponse
	resp, err := request.CallRaw(req, &response, s.timeout)
	if err != nil {
		return "", errors.Wrap(err, "ipfs add failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipfs add returned status %d", resp.StatusCode)
	}
	if response.Hash == "" {
		return "", errors.New("ipfs add returned no hash")
	}

	logrus.WithFields(logrus.Fields{
		"certificate_id": cert.CertificateID,
		"metadata_hash":  response.Hash,
	}).Info("metadata pinned to ipfs")

	return response.Hash, nil
}
