package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/docker/model-ranker/pkg/logging"
)

const (
	// maxRecordsPerRanker is the number of exchanges kept per ranker.
	maxRecordsPerRanker = 10
	// maxRecordedBody caps the recorded size of each request and response.
	maxRecordedBody = 4096
)

type responseRecorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

func (rr *responseRecorder) WriteHeader(statusCode int) {
	rr.statusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

// RankExchange is one recorded rank request and its response.
type RankExchange struct {
	ID         string    `json:"id"`
	RankerID   string    `json:"ranker_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"status_code"`
}

// RankRecorder keeps the most recent rank exchanges of every ranker.
type RankRecorder struct {
	log     logging.Logger
	records map[string][]*RankExchange
	m       sync.RWMutex
}

func NewRankRecorder(log logging.Logger) *RankRecorder {
	return &RankRecorder{
		log:     log,
		records: make(map[string][]*RankExchange),
	}
}

// RecordRequest stores a new exchange for rankerID and returns its id.
func (r *RankRecorder) RecordRequest(rankerID string, req *http.Request, body []byte) string {
	r.m.Lock()
	defer r.m.Unlock()

	now := time.Now()
	recordID := fmt.Sprintf("%s_%d", rankerID, now.UnixNano())

	record := &RankExchange{
		ID:        recordID,
		RankerID:  rankerID,
		Method:    req.Method,
		URL:       req.URL.Path,
		Request:   truncateBody(body),
		Timestamp: now,
	}

	r.records[rankerID] = append(r.records[rankerID], record)
	if len(r.records[rankerID]) > maxRecordsPerRanker {
		r.records[rankerID] = r.records[rankerID][1:]
	}

	return recordID
}

// NewResponseRecorder wraps w so that RecordResponse can read back what the
// handler wrote.
func (r *RankRecorder) NewResponseRecorder(w http.ResponseWriter) http.ResponseWriter {
	return &responseRecorder{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
}

// RecordResponse completes the exchange id with the response captured by rw,
// which must come from NewResponseRecorder.
func (r *RankRecorder) RecordResponse(id, rankerID string, rw http.ResponseWriter) {
	rr, ok := rw.(*responseRecorder)
	if !ok {
		r.log.Errorf("Response for record %s was not captured", id)
		return
	}

	r.m.Lock()
	defer r.m.Unlock()

	for _, record := range r.records[rankerID] {
		if record.ID == id {
			record.Response = truncateBody(rr.body.Bytes())
			record.StatusCode = rr.statusCode
			return
		}
	}
	r.log.Warnf("Matching request (id=%s) not found for ranker %s - %d", id, logging.Sanitize(rankerID), rr.statusCode)
}

// GetRecordsByRankerHandler serves the exchanges of the ranker named by the
// "ranker" query parameter.
func (r *RankRecorder) GetRecordsByRankerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rankerID := req.URL.Query().Get("ranker")
		if rankerID == "" {
			http.Error(w, "A 'ranker' query parameter is required", http.StatusBadRequest)
			return
		}

		records := r.GetRecordsByRanker(rankerID)
		if records == nil {
			http.Error(w, fmt.Sprintf("No records found for ranker '%s'", rankerID), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"ranker_id": rankerID,
			"records":   records,
			"count":     len(records),
		}); err != nil {
			r.log.Warnf("Failed to encode records for ranker %s: %v", logging.Sanitize(rankerID), err)
		}
	}
}

// GetRecordsByRanker returns a copy of the exchanges of rankerID, or nil if
// none were recorded.
func (r *RankRecorder) GetRecordsByRanker(rankerID string) []*RankExchange {
	r.m.RLock()
	defer r.m.RUnlock()

	records, exists := r.records[rankerID]
	if !exists {
		return nil
	}
	result := make([]*RankExchange, len(records))
	for i, record := range records {
		copied := *record
		result[i] = &copied
	}
	return result
}

// RemoveRanker drops everything recorded for rankerID.
func (r *RankRecorder) RemoveRanker(rankerID string) {
	r.m.Lock()
	defer r.m.Unlock()

	if _, exists := r.records[rankerID]; exists {
		delete(r.records, rankerID)
		r.log.Debugf("Removed records for ranker: %s", logging.Sanitize(rankerID))
	}
}

func truncateBody(body []byte) string {
	if len(body) <= maxRecordedBody {
		return string(body)
	}
	return fmt.Sprintf("%s...[truncated %d bytes]", body[:maxRecordedBody], len(body)-maxRecordedBody)
}
