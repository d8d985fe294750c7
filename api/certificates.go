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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/certforge/certforge/api/model"
	"github.com/certforge/certforge/internal/apierror"
)

// RecordCompletion ingests a course-completion event and enqueues its mint
// job. Replaying the same student/course pair returns the existing record.
func (a Api) RecordCompletion(c *gin.Context) {
	var req model2.RecordCompletion
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateRecordCompletion(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	cert, job, err := a.forge.RecordCompletion(c.Request.Context(), req.ToCertificateRecord())
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"certificate": cert,
		"job":         job,
	})
}

func (a Api) GetCertificate(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.forge.GetCertificate(c.Request.Context(), id)
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetCertificates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.forge.GetCertificates(c.Request.Context(), limit, offset)
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RequeueCertificate puts a failed certificate back on the mint queue.
func (a Api) RequeueCertificate(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	job, err := a.forge.RequeueCertificate(c.Request.Context(), id)
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

// jsonError maps service errors onto HTTP statuses.
func (a Api) jsonError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
