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

	"github.com/gin-gonic/gin"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/certforge/certforge"
	"github.com/certforge/certforge/api/middleware"
	"github.com/certforge/certforge/config"
)

type Api struct {
	forge     *certforge.Certforge
	processor *certforge.Processor
	router    *gin.Engine
}

// Router wires the route table. Verification and status are public (the
// verify endpoint rate-limited); everything else sits behind the bearer
// token.
func (a Api) Router() *gin.Engine {
	router := a.router

	authorized := router.Group("/", middleware.BearerAuthMiddleware())
	authorized.POST("/completions", a.RecordCompletion)
	authorized.GET("/certificates", a.GetCertificates)
	authorized.GET("/certificates/:id", a.GetCertificate)
	authorized.POST("/certificates/:id/requeue", a.RequeueCertificate)
	authorized.GET("/jobs/failed", a.GetFailedJobs)
	authorized.POST("/process", a.ProcessJobs)
	authorized.POST("/search/certificates", a.SearchCertificates)

	return a.router
}

func NewAPI(f *certforge.Certforge) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	a := &Api{forge: f, processor: certforge.NewProcessor(f, conf), router: r}

	// The verify endpoint is the one surface exposed to the open internet.
	r.POST("/verify", middleware.RateLimitMiddleware(conf), a.Verify)
	r.GET("/status", a.Status)

	return a
}

// SearchCertificates is a typesense passthrough over the certificates
// collection.
func (a Api) SearchCertificates(c *gin.Context) {
	var query api.SearchCollectionParams
	if err := c.BindJSON(&query); err != nil {
		return
	}

	resp, err := a.forge.Search("certificates", &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
