package localservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/docker/model-ranker/pkg/logging"
	"github.com/docker/model-ranker/pkg/metrics"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/docker/model-ranker/pkg/routing"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTrainingPolls is the number of status checks a new ranker
	// reports Training for.
	DefaultTrainingPolls = 3
	// defaultTopAnswers is the number of answers returned when the request
	// does not ask for a specific count.
	defaultTopAnswers = 10
	// maxUploadSize bounds the size of training and candidate uploads.
	maxUploadSize = 64 << 20
)

var errRankerNotFound = errors.New("ranker not found")

// entry is the stored state of one ranker.
type entry struct {
	ranker.Ranker
	// polls counts the status checks seen while training.
	polls int
	// trainingErr is reported once training completes. Nil means the ranker
	// becomes Available.
	trainingErr error
	// digest identifies the uploaded training data.
	digest digest.Digest
}

// Service is an in-memory ranking service. Rankers "train" for a fixed
// number of status checks and score candidates by the sum of their features.
type Service struct {
	// log is the associated logger.
	log logging.Logger
	// router is the HTTP request router.
	router *routing.NormalizedServeMux
	// trainingPolls is the number of status checks a ranker trains for.
	trainingPolls int
	// username and password enable basic auth when username is not empty.
	username string
	password string
	// metrics is optional.
	metrics *metrics.ServiceMetrics
	// recorder is optional.
	recorder *metrics.RankRecorder
	// now is the time source for creation timestamps.
	now func() time.Time

	// mu guards rankers.
	mu      sync.Mutex
	rankers map[string]*entry
}

// Option configures a Service.
type Option func(*Service)

// WithTrainingPolls sets how many status checks a ranker reports Training
// for before training completes.
func WithTrainingPolls(n int) Option {
	return func(s *Service) { s.trainingPolls = n }
}

// WithBasicAuth requires every ranker request to carry these credentials.
func WithBasicAuth(username, password string) Option {
	return func(s *Service) {
		s.username = username
		s.password = password
	}
}

// WithMetrics instruments the service handlers.
func WithMetrics(m *metrics.ServiceMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRecorder keeps recent rank exchanges and serves them on
// GET /debug/requests.
func WithRecorder(r *metrics.RankRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithNow replaces the time source used for creation timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a new local ranking service.
func New(log logging.Logger, opts ...Option) *Service {
	s := &Service{
		log:           log,
		router:        routing.NewNormalizedServeMux(),
		trainingPolls: DefaultTrainingPolls,
		now:           time.Now,
		rankers:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trainingPolls < 0 {
		s.trainingPolls = 0
	}

	// Register routes.
	s.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	s.handle("create", "POST /v1/rankers", s.handleCreateRanker)
	s.handle("list", "GET /v1/rankers", s.handleListRankers)
	s.handle("status", "GET /v1/rankers/{id}", s.handleGetRanker)
	s.handle("delete", "DELETE /v1/rankers/{id}", s.handleDeleteRanker)
	s.handle("rank", "POST /v1/rankers/{id}/rank", s.handleRank)
	if s.recorder != nil {
		s.router.Handle("GET /debug/requests", s.authenticate(s.recorder.GetRecordsByRankerHandler()))
	}

	s.updateGauge()
	return s
}

func (s *Service) handle(name, pattern string, handler http.HandlerFunc) {
	var h http.Handler = s.authenticate(handler)
	if s.metrics != nil {
		h = s.metrics.Handler(name, h)
	}
	s.router.Handle(pattern, h)
}

func (s *Service) authenticate(next http.Handler) http.Handler {
	if s.username == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.username || password != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="ranker"`)
			writeError(w, http.StatusUnauthorized, "Not Authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleCreateRanker handles POST /v1/rankers requests.
func (s *Service) handleCreateRanker(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	// Read the training data.
	data, err := readFormFile(r, ranker.PartTrainingData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Decode the metadata, which is optional.
	var metadata struct {
		Name string `json:"name"`
	}
	if raw := r.FormValue(ranker.PartTrainingMetadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", ranker.PartTrainingMetadata, err))
			return
		}
	}

	e := &entry{
		Ranker: ranker.Ranker{
			ID:                uuid.NewString(),
			Name:              metadata.Name,
			Created:           s.now().UTC(),
			Status:            ranker.StatusTraining,
			StatusDescription: "The ranker instance is in its training phase, not yet ready to accept rank requests",
		},
		trainingErr: validateTrainingData(data),
		digest:      digest.FromBytes(data),
	}

	s.mu.Lock()
	s.rankers[e.ID] = e
	response := s.view(e, r)
	s.mu.Unlock()
	s.updateGauge()

	s.log.WithFields(logrus.Fields{
		"ranker": e.ID,
		"name":   logging.Sanitize(e.Name),
		"digest": e.digest.String(),
		"bytes":  len(data),
	}).Info("Ranker created")

	writeJSON(w, s.log, http.StatusOK, response)
}

// handleListRankers handles GET /v1/rankers requests.
func (s *Service) handleListRankers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := ranker.RankerList{Rankers: make([]ranker.Ranker, 0, len(s.rankers))}
	for _, e := range s.rankers {
		list.Rankers = append(list.Rankers, s.view(e, r))
	}
	s.mu.Unlock()

	sort.Slice(list.Rankers, func(i, j int) bool {
		a, b := list.Rankers[i], list.Rankers[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	})
	writeJSON(w, s.log, http.StatusOK, list)
}

// handleGetRanker handles GET /v1/rankers/{id} requests. Every check of a
// training ranker advances its training by one step.
func (s *Service) handleGetRanker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	e, ok := s.rankers[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, errRankerNotFound.Error())
		return
	}
	transitioned := s.advance(e)
	response := s.view(e, r)
	s.mu.Unlock()

	if transitioned {
		s.updateGauge()
		s.log.WithFields(logrus.Fields{"ranker": id, "status": e.Status}).Info("Ranker training finished")
	}
	writeJSON(w, s.log, http.StatusOK, response)
}

// handleDeleteRanker handles DELETE /v1/rankers/{id} requests.
func (s *Service) handleDeleteRanker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.rankers[id]
	delete(s.rankers, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, errRankerNotFound.Error())
		return
	}
	if s.recorder != nil {
		s.recorder.RemoveRanker(id)
	}
	s.updateGauge()
	s.log.WithField("ranker", id).Info("Ranker deleted")
	writeJSON(w, s.log, http.StatusOK, struct{}{})
}

// handleRank handles POST /v1/rankers/{id}/rank requests.
func (s *Service) handleRank(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	e, ok := s.rankers[id]
	var status ranker.Status
	var rankerURL string
	if ok {
		status = e.Status
		rankerURL = s.view(e, r).URL
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, errRankerNotFound.Error())
		return
	}
	if status != ranker.StatusAvailable {
		writeError(w, http.StatusConflict, fmt.Sprintf("ranker %s is %s and can not rank", id, status))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, err := readFormFile(r, ranker.PartAnswerData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	top := defaultTopAnswers
	if raw := r.FormValue(ranker.PartAnswers); raw != "" {
		top, err = strconv.Atoi(raw)
		if err != nil || top <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s value %q", ranker.PartAnswers, raw))
			return
		}
	}

	if s.recorder != nil {
		recordID := s.recorder.RecordRequest(id, r, data)
		w = s.recorder.NewResponseRecorder(w)
		defer s.recorder.RecordResponse(recordID, id, w)
	}

	answers, err := scoreCandidates(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(answers) > top {
		answers = answers[:top]
	}

	if s.metrics != nil {
		s.metrics.Rankings.Inc()
	}
	writeJSON(w, s.log, http.StatusOK, rankResponse{
		RankerID:  id,
		URL:       rankerURL,
		TopAnswer: answers[0].AnswerID,
		Answers:   answers,
	})
}

// advance moves a training ranker one status check forward and reports
// whether training completed. The caller must hold s.mu.
func (s *Service) advance(e *entry) bool {
	if e.Status != ranker.StatusTraining {
		return false
	}
	e.polls++
	if e.polls <= s.trainingPolls {
		return false
	}
	if e.trainingErr != nil {
		e.Status = ranker.StatusFailed
		e.StatusDescription = e.trainingErr.Error()
	} else {
		e.Status = ranker.StatusAvailable
		e.StatusDescription = "The ranker instance is now available and is ready to take ranker requests"
	}
	return true
}

// view returns the public representation of e. The caller must hold s.mu.
func (s *Service) view(e *entry, r *http.Request) ranker.Ranker {
	v := e.Ranker
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	v.URL = fmt.Sprintf("%s://%s/v1/rankers/%s", scheme, r.Host, e.ID)
	return v
}

func (s *Service) updateGauge() {
	if s.metrics == nil {
		return
	}
	counts := map[ranker.Status]float64{
		ranker.StatusTraining:  0,
		ranker.StatusAvailable: 0,
		ranker.StatusFailed:    0,
	}
	s.mu.Lock()
	for _, e := range s.rankers {
		counts[e.Status]++
	}
	s.mu.Unlock()
	for status, n := range counts {
		s.metrics.Rankers.WithLabelValues(string(status)).Set(n)
	}
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s part", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s part: %w", field, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s part is empty", field)
	}
	return data, nil
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Nothing useful can be done when the error itself can not be written.
	_ = json.NewEncoder(w).Encode(errorResponse{Code: status, Error: msg})
}

func writeJSON(w http.ResponseWriter, log logging.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnln("Error while encoding response:", err)
	}
}
