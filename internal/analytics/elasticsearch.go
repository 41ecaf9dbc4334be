// Package analytics indexes a summary document for each completed
// reconstitution request into Elasticsearch, so operators can search
// "which articles had vandalism that could not be rebuilt" across time.
// It is optional: disabled unless config.Elasticsearch.Enabled is set.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/config"
	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/models"
)

const indexPattern = "reconstitution-runs"

// RunDocument is the summary document indexed for one completed request.
type RunDocument struct {
	Title             string    `json:"title"`
	VandalismsMerged  int       `json:"vandalisms_merged"`
	SectionsTotal     int       `json:"sections_total"`
	SectionsAbandoned int       `json:"sections_abandoned"`
	MergesTimedOut    int       `json:"merges_timed_out"`
	RenderFellBack    bool      `json:"render_fell_back"`
	DurationMS        int64     `json:"duration_ms"`
	CompletedAt       time.Time `json:"completed_at"`
}

// DocumentFromResult builds a RunDocument from a reconstitution result.
func DocumentFromResult(title string, result models.ReconstitutionResult) RunDocument {
	return RunDocument{
		Title:             title,
		VandalismsMerged:  result.VandalismsMerged,
		SectionsTotal:     result.SectionsTotal,
		SectionsAbandoned: result.SectionsAbandoned,
		MergesTimedOut:    result.MergesTimedOut,
		RenderFellBack:    result.RenderFellBack,
		DurationMS:        result.Duration.Milliseconds(),
		CompletedAt:       result.CompletedAt,
	}
}

type bulkOperation struct {
	Index *bulkIndex `json:"index,omitempty"`
}

type bulkIndex struct {
	Index string `json:"_index"`
}

// Client wraps the official Elasticsearch client with a bulk-buffered
// indexer for run-summary documents.
type Client struct {
	client        *elasticsearch.Client
	cfg           config.Elasticsearch
	logger        zerolog.Logger
	bulkBuffer    chan RunDocument
	bulkSize      int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewClient creates an Elasticsearch client, pings it, and sets up ILM +
// the index template. Returns an error if the cluster is unreachable at
// startup, letting the caller decide whether that's fatal or whether to
// run with analytics disabled.
func NewClient(cfg config.Elasticsearch, logger zerolog.Logger) (*Client, error) {
	esConfig := elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(100*i*i) * time.Millisecond
		},
		MaxRetries:    3,
		EnableMetrics: true,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("analytics: create ES client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("analytics: ping ES: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("analytics: ES ping failed with status: %s", res.Status())
	}

	c := &Client{
		client:        client,
		cfg:           cfg,
		logger:        logger.With().Str("component", "analytics").Logger(),
		bulkBuffer:    make(chan RunDocument, 1000),
		bulkSize:      200,
		flushInterval: 5 * time.Second,
		stopCh:        make(chan struct{}),
	}

	if err := c.setupILM(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to set up ILM policy and index template")
	}

	return c, nil
}

// setupILM configures Index Lifecycle Management and the index template.
// Indices use date-based naming (reconstitution-runs-YYYY-MM-DD), created
// directly by the bulk indexer, so only the delete phase is needed.
func (c *Client) setupILM() error {
	ctx := context.Background()
	policyName := "reconstitution-runs-policy"

	policy := map[string]interface{}{
		"policy": map[string]interface{}{
			"phases": map[string]interface{}{
				"hot": map[string]interface{}{"actions": map[string]interface{}{}},
				"delete": map[string]interface{}{
					"min_age": fmt.Sprintf("%dd", c.cfg.RetentionDays),
					"actions": map[string]interface{}{"delete": map[string]interface{}{}},
				},
			},
		},
	}
	policyJSON, _ := json.Marshal(policy)

	res, err := (esapi.ILMPutLifecycleRequest{Policy: policyName, Body: bytes.NewReader(policyJSON)}).Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("create ILM policy: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create ILM policy, status: %s", res.Status())
	}

	template := map[string]interface{}{
		"index_patterns": []string{indexPattern + "-*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":     1,
				"number_of_replicas":   0,
				"refresh_interval":     "5s",
				"index.lifecycle.name": policyName,
			},
			"mappings": map[string]interface{}{
				"properties": map[string]interface{}{
					"title": map[string]interface{}{
						"type":   "text",
						"fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword"}},
					},
					"vandalisms_merged":  map[string]interface{}{"type": "integer"},
					"sections_total":     map[string]interface{}{"type": "integer"},
					"sections_abandoned": map[string]interface{}{"type": "integer"},
					"merges_timed_out":   map[string]interface{}{"type": "integer"},
					"render_fell_back":   map[string]interface{}{"type": "boolean"},
					"duration_ms":        map[string]interface{}{"type": "long"},
					"completed_at":       map[string]interface{}{"type": "date"},
				},
			},
		},
	}
	templateJSON, _ := json.Marshal(template)

	res, err = (esapi.IndicesPutIndexTemplateRequest{Name: indexPattern, Body: bytes.NewReader(templateJSON)}).Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("create index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create index template, status: %s", res.Status())
	}

	return nil
}

// IndexRun enqueues a run-summary document for indexing. Returns an error
// if the bulk buffer is full, in which case the caller should treat
// analytics as degraded (see internal/resilience.HandleAnalyticsUnavailable).
func (c *Client) IndexRun(doc RunDocument) error {
	select {
	case c.bulkBuffer <- doc:
		return nil
	default:
		metrics.IncrementCounter("analytics_index_errors_total", map[string]string{})
		return fmt.Errorf("analytics: bulk buffer is full")
	}
}

// StartBulkProcessor starts the background bulk-indexing goroutine.
func (c *Client) StartBulkProcessor() {
	c.wg.Add(1)
	go c.bulkProcessor()
}

// Stop gracefully flushes and stops the bulk processor.
func (c *Client) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Client) bulkProcessor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]RunDocument, 0, c.bulkSize)

	for {
		select {
		case doc := <-c.bulkBuffer:
			batch = append(batch, doc)
			if len(batch) >= c.bulkSize {
				c.performBulkIndex(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				c.performBulkIndex(batch)
				batch = batch[:0]
			}

		case <-c.stopCh:
			if len(batch) > 0 {
				c.performBulkIndex(batch)
			}
			return
		}
	}
}

func (c *Client) performBulkIndex(docs []RunDocument) {
	if len(docs) == 0 {
		return
	}

	start := time.Now()

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := bulkOperation{Index: &bulkIndex{Index: c.getIndexName(doc.CompletedAt)}}
		metaJSON, _ := json.Marshal(meta)
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		docJSON, _ := json.Marshal(doc)
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := c.client.Bulk(bytes.NewReader(buf.Bytes()), c.client.Bulk.WithContext(ctx))
	if err != nil {
		c.logger.Error().Err(err).Msg("bulk indexing failed")
		metrics.IncrementCounter("analytics_index_errors_total", map[string]string{})
		return
	}
	defer res.Body.Close()

	var bulkResponse struct {
		Errors bool                     `json:"errors"`
		Items  []map[string]interface{} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResponse); err != nil {
		c.logger.Error().Err(err).Msg("failed to parse bulk response")
		metrics.IncrementCounter("analytics_index_errors_total", map[string]string{})
		return
	}

	errorCount := 0
	for _, item := range bulkResponse.Items {
		for _, op := range item {
			opMap, ok := op.(map[string]interface{})
			if !ok {
				continue
			}
			status, ok := opMap["status"].(float64)
			if ok && status >= 300 {
				errorCount++
			}
		}
	}
	if errorCount > 0 {
		metrics.IncrementCounter("analytics_index_errors_total", map[string]string{})
	}

	c.logger.Debug().
		Int("batch_size", len(docs)).
		Int("errors", errorCount).
		Dur("latency", time.Since(start)).
		Msg("bulk indexed reconstitution run summaries")
}

// DeleteOldIndices removes indices older than the configured retention
// period; the ILM policy above normally handles this automatically.
func (c *Client) DeleteOldIndices() error {
	ctx := context.Background()
	cutoffStr := time.Now().AddDate(0, 0, -c.cfg.RetentionDays).Format("2006-01-02")

	res, err := c.client.Cat.Indices(
		c.client.Cat.Indices.WithContext(ctx),
		c.client.Cat.Indices.WithIndex(indexPattern+"-*"),
		c.client.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return fmt.Errorf("analytics: list indices: %w", err)
	}
	defer res.Body.Close()

	var indices []map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return fmt.Errorf("analytics: decode indices response: %w", err)
	}

	for _, index := range indices {
		name, _ := index["index"].(string)
		if !strings.HasPrefix(name, indexPattern+"-") {
			continue
		}
		datePart := strings.TrimPrefix(name, indexPattern+"-")
		if datePart >= cutoffStr {
			continue
		}
		if delRes, err := c.client.Indices.Delete([]string{name}); err == nil {
			delRes.Body.Close()
		} else {
			c.logger.Warn().Err(err).Str("index", name).Msg("failed to delete stale index")
		}
	}

	return nil
}

func (c *Client) getIndexName(timestamp time.Time) string {
	return fmt.Sprintf("%s-%s", indexPattern, timestamp.Format("2006-01-02"))
}

// RawClient returns the underlying elasticsearch.Client for ad-hoc queries.
func (c *Client) RawClient() *elasticsearch.Client {
	return c.client
}
