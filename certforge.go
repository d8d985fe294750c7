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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/certforge/certforge/chain"
	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/database"
	"github.com/certforge/certforge/internal/cache"
	redis_db "github.com/certforge/certforge/internal/redis-db"
	"github.com/certforge/certforge/metadata"
)

// Certforge is the certificate issuance service: it records course
// completions, drives the durable mint queue, and answers verification
// requests.
type Certforge struct {
	queue      *Queue
	search     *TypesenseClient
	redis      redis.UniversalClient
	cache      cache.Cache
	datasource database.IDataSource
	chain      chain.Client
	store      metadata.Store
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewCertforge initializes the service with the provided datasource. The
// chain client and metadata store are built from configuration; tests inject
// their own through NewCertforgeWithDeps.
func NewCertforge(db database.IDataSource) (*Certforge, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	chainClient, err := chain.NewClient(configuration.Chain)
	if err != nil {
		return nil, err
	}

	store, err := metadata.NewStore(configuration.MetadataStore)
	if err != nil {
		return nil, err
	}

	return NewCertforgeWithDeps(db, chainClient, store)
}

// NewCertforgeWithDeps wires the service with explicit chain and metadata
// dependencies.
func NewCertforgeWithDeps(db database.IDataSource, chainClient chain.Client, store metadata.Store) (*Certforge, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(db, configuration)
	newSearch := NewTypesenseClient(configuration.TypeSenseKey, []string{configuration.TypeSense.Dns})

	resultCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	return &Certforge{
		queue:      newQueue,
		search:     newSearch,
		redis:      redisClient.Client(),
		cache:      resultCache,
		datasource: db,
		chain:      chainClient,
		store:      store,
	}, nil
}

// Queue exposes the mint queue, mainly for the worker command and operator
// endpoints.
func (c *Certforge) Queue() *Queue {
	return c.queue
}

// Chain exposes the chain client for the wallet status endpoint.
func (c *Certforge) Chain() chain.Client {
	return c.chain
}
