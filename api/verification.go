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
	"github.com/sirupsen/logrus"

	model2 "github.com/certforge/certforge/api/model"
	"github.com/certforge/certforge/config"
)

// Verify answers a public verification request. Negative outcomes (unknown
// certificate, pending mint, data mismatch) come back as 200 verdicts; only
// malformed input is a 4xx.
func (a Api) Verify(c *gin.Context) {
	var req model2.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.forge.Verify(c.Request.Context(), req.ToVerificationRequest())
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Status reports the signer wallet and queue health plus the network the
// service mints on. Public so dashboards can poll it without a token.
func (a Api) Status(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		a.jsonError(c, err)
		return
	}

	stats, err := a.forge.Queue().GetStats(c.Request.Context())
	if err != nil {
		a.jsonError(c, err)
		return
	}

	resp := gin.H{
		"queue":   stats,
		"network": conf.Chain.Network,
	}
	if conf.Chain.ExplorerUrl != "" {
		resp["explorer_url"] = conf.Chain.ExplorerUrl
	}

	// The wallet reading needs an RPC round trip; a down node should not take
	// the whole status endpoint with it.
	wallet, err := a.forge.WalletStatus(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Warn("wallet status unavailable")
		resp["wallet"] = gin.H{"error": "wallet status unavailable"}
	} else {
		resp["wallet"] = wallet
	}

	c.JSON(http.StatusOK, resp)
}

// ProcessJobs synchronously drains up to batch due jobs. Lets an external
// scheduler (cron, cloud scheduler) drive the queue instead of resident
// workers.
func (a Api) ProcessJobs(c *gin.Context) {
	var req model2.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateProcessRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	processed, err := a.processor.ProcessBatch(c.Request.Context(), req.Batch)
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// GetFailedJobs lists terminally failed mint jobs for the operator view.
func (a Api) GetFailedJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	jobs, err := a.forge.Queue().FailedJobs(c.Request.Context(), limit)
	if err != nil {
		a.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}
