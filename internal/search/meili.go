package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const idxSpecs = "specsync_specs"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili indexes synced specs in Meilisearch. Calls go through a circuit
// breaker so a failing instance is skipped until it recovers.
type Meili struct {
	client  meili.ServiceManager
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the spec index.
// An unreachable instance is reported unhealthy, not as an error.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meilisearch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("search: circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	if _, err := client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSpecs,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("search: create index (may already exist)", zap.String("index", idxSpecs), zap.Error(err))
	}

	index := m.client.Index(idxSpecs)
	filterable := []interface{}{"projectId", "featureId", "fileType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: update filterable attrs", zap.String("index", idxSpecs), zap.Error(err))
	}
	searchable := []string{"featureName", "featureId", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: update searchable attrs", zap.String("index", idxSpecs), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable and the breaker is not open.
func (m *Meili) Healthy() bool {
	return m.healthy.Load() && m.breaker.State() != gobreaker.StateOpen
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	request := &meili.SearchRequest{
		IndexUID:              idxSpecs,
		Query:                 q.Text,
		Limit:                 int64(normalizeLimit(q.Limit)),
		Filter:                []string{fmt.Sprintf("projectId = %q", q.ProjectID)},
		AttributesToHighlight: []string{"content", "featureName"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var results []Result
	total := 0
	_, err := m.breaker.Execute(func() (interface{}, error) {
		resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
			Queries: []*meili.SearchRequest{request},
		})
		if err != nil {
			return nil, err
		}
		for _, sr := range resp.Results {
			total += int(sr.EstimatedTotalHits)
			for _, hit := range sr.Hits {
				results = append(results, hitToResult(hit, q.Text))
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit, text string) Result {
	r := Result{
		SpecID:      decodeString(hit, "id"),
		ProjectID:   decodeString(hit, "projectId"),
		FeatureID:   decodeString(hit, "featureId"),
		FeatureName: decodeString(hit, "featureName"),
		FileType:    decodeString(hit, "fileType"),
		Version:     decodeInt(hit, "version"),
	}
	formatted := decodeFormattedString(hit, "content")
	if idx := strings.Index(formatted, "<mark>"); idx >= 0 {
		r.Snippet = snippetAt(formatted, idx, len("<mark>"))
	} else {
		r.Snippet = Snippet(decodeString(hit, "content"), text)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(formatted[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// IndexSpecs adds or replaces spec documents.
func (m *Meili) IndexSpecs(records []SpecRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return m.client.Index(idxSpecs).AddDocuments(records, nil)
	})
	return err
}

// DeleteSpec removes a spec document from the index.
func (m *Meili) DeleteSpec(id string) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return m.client.Index(idxSpecs).DeleteDocument(id, nil)
	})
	return err
}
