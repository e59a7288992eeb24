// Package runlog collects per-run audit state: API usage counters and
// error records. A RunLog is created at the start of a batch, passed to
// every component in the run, and flushed once at the end; there are no
// process-wide accumulators.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// ErrorEntry is one recorded failure, in the shape consumed by the
// log-driven reconciliation tools.
type ErrorEntry struct {
	ErrorType    string              `json:"error_type"`
	ErrorMessage string              `json:"error_message"`
	JobID        string              `json:"job_id,omitempty"`
	PostID       string              `json:"post_id,omitempty"`
	Platform     collection.Platform `json:"platform,omitempty"`
	Country      string              `json:"country,omitempty"`
	CandidateID  string              `json:"candidate_id,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Validate performs coarse validation on error entries.
func (e ErrorEntry) Validate() error {
	if e.ErrorType == "" {
		return errors.New("error type is required")
	}
	if e.ErrorMessage == "" {
		return errors.New("error message is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// Document is the flushed log file layout.
type Document struct {
	ExecutionType      string         `json:"execution_type"`
	ExecutionTimestamp time.Time      `json:"execution_timestamp"`
	APIUsage           map[string]int `json:"api_usage"`
	Errors             []ErrorEntry   `json:"errors"`
}

// RunLog accumulates audit state for a single batch run.
type RunLog struct {
	mu            sync.Mutex
	runID         string
	executionType string
	startedAt     time.Time
	apiUsage      map[string]int
	errs          []ErrorEntry
}

// New creates a RunLog for one batch execution.
func New(runID, executionType string, startedAt time.Time) *RunLog {
	return &RunLog{
		runID:         runID,
		executionType: executionType,
		startedAt:     startedAt,
		apiUsage:      make(map[string]int),
	}
}

// RunID returns the run identifier.
func (r *RunLog) RunID() string {
	return r.runID
}

// CountAPICall increments the usage counter for an endpoint.
func (r *RunLog) CountAPICall(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiUsage[endpoint]++
}

// RecordError appends an error entry. Invalid entries are normalized rather
// than dropped: an audit trail with a vague entry beats a silent gap.
func (r *RunLog) RecordError(entry ErrorEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ErrorType == "" {
		entry.ErrorType = "unclassified"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, entry)
}

// Errors returns a copy of the recorded entries.
func (r *RunLog) Errors() []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorEntry, len(r.errs))
	copy(out, r.errs)
	return out
}

// Document builds the flushable log document.
func (r *RunLog) Document() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage := make(map[string]int, len(r.apiUsage))
	for k, v := range r.apiUsage {
		usage[k] = v
	}
	errs := make([]ErrorEntry, len(r.errs))
	copy(errs, r.errs)
	return Document{
		ExecutionType:      r.executionType,
		ExecutionTimestamp: r.startedAt,
		APIUsage:           usage,
		Errors:             errs,
	}
}

// Flush writes the log document to the blob store under the
// date-partitioned errors prefix and returns the object URI.
func (r *RunLog) Flush(ctx context.Context, store collection.BlobStore, prefix string) (string, error) {
	if prefix == "" {
		prefix = "logs/errors"
	}
	doc := r.Document()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}
	path := fmt.Sprintf("%s/%s/%s_%s.json",
		prefix,
		doc.ExecutionTimestamp.UTC().Format("2006-01-02"),
		doc.ExecutionType,
		r.runID,
	)
	uri, err := store.PutObject(ctx, path, "application/json", data)
	if err != nil {
		return "", fmt.Errorf("flush run log: %w", err)
	}
	return uri, nil
}

// ParseDocument decodes a previously flushed log document. The log-driven
// retry tools consume this.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode run log document: %w", err)
	}
	return doc, nil
}
