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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/wacul/ptr"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/internal/search"
)

// TypesenseClient is re-exported so commands can build the search layer
// without importing the internal package directly.
type TypesenseClient = search.TypesenseClient

// NewTypesenseClient initializes the search client.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	return search.NewTypesenseClient(apiKey, hosts)
}

// Search performs a search on the specified collection using the provided query parameters.
func (c *Certforge) Search(collection string, query *api.SearchCollectionParams) (interface{}, error) {
	return c.search.Search(context.Background(), collection, query)
}

// SearchCertificates runs a free-text query over the certificates collection.
func (c *Certforge) SearchCertificates(ctx context.Context, query string) (*api.SearchResult, error) {
	params := &api.SearchCollectionParams{
		Q:       query,
		QueryBy: "certificate_number,student_id,course_name,instructor_name",
		SortBy:  ptr.String("created_at:desc"),
	}
	return c.search.Search(ctx, search.CollectionCertificates, params)
}

// queueIndexData enqueues a task to index data in a specified collection.
// Indexing is best-effort; a down search cluster never blocks issuance.
func (c *Certforge) queueIndexData(id string, collection string, data interface{}) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return
	}

	if cfg.TypeSense.Dns == "" {
		return
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		log.Println("Error marshaling index payload:", err)
		return
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Dns})
	defer client.Close()

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.IndexQueue)}
	task := asynq.NewTask(cfg.Queue.IndexQueue, IPayload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
}
