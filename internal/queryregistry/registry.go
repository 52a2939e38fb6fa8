// Package queryregistry tracks running and recently finished queries for
// the introspection endpoints.
package queryregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueryStatus is the lifecycle state of a tracked query.
type QueryStatus string

const (
	StatusRunning   QueryStatus = "running"
	StatusCompleted QueryStatus = "completed"
	StatusFailed    QueryStatus = "failed"
	StatusTooLarge  QueryStatus = "too_large"
)

// maxQueryText bounds the stored query document text.
const maxQueryText = 4096

// TrackedQuery holds all metadata about a tracked query.
type TrackedQuery struct {
	ID         string      `json:"id"`
	Query      string      `json:"query"`
	Dataset    string      `json:"dataset,omitempty"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	Status     QueryStatus `json:"status"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	DurationMs float64     `json:"duration_ms"`
	RowCount   int         `json:"row_count"`
	Error      string      `json:"error,omitempty"`
}

// RegistryConfig holds configuration for the query registry.
type RegistryConfig struct {
	HistorySize int // ring buffer size for finished queries (default: 100)
}

// Registry tracks active and recently finished queries.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*TrackedQuery
	history  []*TrackedQuery // ring buffer
	histSize int
	histHead int // next write position
	histLen  int
	logger   zerolog.Logger
}

func NewRegistry(cfg *RegistryConfig, logger zerolog.Logger) *Registry {
	histSize := 100
	if cfg != nil && cfg.HistorySize > 0 {
		histSize = cfg.HistorySize
	}
	return &Registry{
		active:   make(map[string]*TrackedQuery),
		history:  make([]*TrackedQuery, histSize),
		histSize: histSize,
		logger:   logger.With().Str("component", "query-registry").Logger(),
	}
}

// Register records a new running query and returns its id.
func (r *Registry) Register(queryText, remoteAddr string) string {
	id := uuid.New().String()[:12]
	if len(queryText) > maxQueryText {
		queryText = queryText[:maxQueryText] + "..."
	}

	q := &TrackedQuery{
		ID:         id,
		Query:      queryText,
		RemoteAddr: remoteAddr,
		Status:     StatusRunning,
		StartTime:  time.Now(),
	}

	r.mu.Lock()
	r.active[id] = q
	r.mu.Unlock()

	r.logger.Debug().Str("query_id", id).Msg("Query registered")
	return id
}

// SetDataset records the dataset a query bound to once validation succeeds.
func (r *Registry) SetDataset(id, dataset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.active[id]; ok {
		q.Dataset = dataset
	}
}

func (r *Registry) Complete(id string, rowCount int) {
	r.finish(id, StatusCompleted, rowCount, "")
}

func (r *Registry) Fail(id string, errMsg string) {
	r.finish(id, StatusFailed, 0, errMsg)
}

// TooLarge marks a query that exceeded the result row limit.
func (r *Registry) TooLarge(id string, errMsg string) {
	r.finish(id, StatusTooLarge, 0, errMsg)
}

func (r *Registry) finish(id string, status QueryStatus, rowCount int, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.active[id]
	if !ok {
		return
	}
	now := time.Now()
	q.Status = status
	q.EndTime = &now
	q.DurationMs = float64(now.Sub(q.StartTime).Microseconds()) / 1000
	q.RowCount = rowCount
	q.Error = errMsg

	r.addToHistory(q)
	delete(r.active, id)
}

// GetActive returns copies of all running queries.
func (r *Registry) GetActive() []*TrackedQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*TrackedQuery, 0, len(r.active))
	now := time.Now()
	for _, q := range r.active {
		c := *q
		c.DurationMs = float64(now.Sub(c.StartTime).Microseconds()) / 1000
		result = append(result, &c)
	}
	return result
}

// GetHistory returns copies of the most recent finished queries, newest first.
func (r *Registry) GetHistory(limit int) []*TrackedQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.histLen
	if limit > 0 && limit < count {
		count = limit
	}
	result := make([]*TrackedQuery, 0, count)
	for i := 0; i < count; i++ {
		c := *r.history[(r.histHead-1-i+r.histSize)%r.histSize]
		result = append(result, &c)
	}
	return result
}

// GetQuery looks up a query by id, active first.
func (r *Registry) GetQuery(id string) *TrackedQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if q, ok := r.active[id]; ok {
		c := *q
		return &c
	}
	for i := 0; i < r.histLen; i++ {
		q := r.history[(r.histHead-1-i+r.histSize)%r.histSize]
		if q.ID == id {
			c := *q
			return &c
		}
	}
	return nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Close logs queries still running at shutdown.
func (r *Registry) Close() error {
	if n := r.ActiveCount(); n > 0 {
		r.logger.Warn().Int("active", n).Msg("Shutting down with queries still running")
	}
	return nil
}

// addToHistory must be called with mu held.
func (r *Registry) addToHistory(q *TrackedQuery) {
	r.history[r.histHead] = q
	r.histHead = (r.histHead + 1) % r.histSize
	if r.histLen < r.histSize {
		r.histLen++
	}
}
