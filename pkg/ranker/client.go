package ranker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/docker/model-ranker/pkg/logging"
	"github.com/docker/model-ranker/pkg/transport"
	"github.com/sirupsen/logrus"
)

const rankersPath = "/v1/rankers"

func rankerPath(id string) string {
	return rankersPath + "/" + id
}

func rankPath(id string) string {
	return rankerPath(id) + "/rank"
}

// Client talks to a ranking service. It holds no mutable state and is safe
// for concurrent use.
type Client struct {
	// service is the endpoint and HTTP client to use.
	service *transport.ServiceContext
	// log receives debug output only.
	log logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(log logging.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for the given service.
func New(service *transport.ServiceContext, opts ...ClientOption) *Client {
	c := &Client{
		service: service,
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRanker uploads training data and returns the new ranker, normally in
// the Training state. name may be empty.
func (c *Client) CreateRanker(ctx context.Context, name string, trainingData io.Reader) (*Ranker, error) {
	data, err := requireData("training data", trainingData)
	if err != nil {
		return nil, err
	}

	body := EncodeTrainingRequest(name, data)
	defer body.Close()

	c.log.WithField("name", logging.Sanitize(name)).Debug("Creating ranker")
	raw, err := c.call(ctx, http.MethodPost, rankersPath, body, body.ContentType())
	if err != nil {
		return nil, err
	}

	ranker, err := DecodeRanker(raw)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"ranker": ranker.ID, "status": ranker.RawStatus}).Debug("Ranker created")
	return ranker, nil
}

// CreateRankerFromFile is CreateRanker reading the training data from path.
// The file is closed before returning.
func (c *Client) CreateRankerFromFile(ctx context.Context, name, path string) (*Ranker, error) {
	f, err := openDataFile("training file", path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.CreateRanker(ctx, name, f)
}

// GetRankerStatus fetches the current state of a ranker.
func (c *Client) GetRankerStatus(ctx context.Context, rankerID string) (*Ranker, error) {
	if err := validateID(rankerID); err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, http.MethodGet, rankerPath(rankerID), nil, "")
	if err != nil {
		return nil, err
	}
	return DecodeRanker(raw)
}

// ListRankers lists the caller's rankers. The result is never nil.
func (c *Client) ListRankers(ctx context.Context) (*RankerList, error) {
	raw, err := c.call(ctx, http.MethodGet, rankersPath, nil, "")
	if err != nil {
		return nil, err
	}
	return DecodeRankerList(raw)
}

// DeleteRanker deletes a ranker. Deleting an unknown ranker is an error
// matching ErrNotFound.
func (c *Client) DeleteRanker(ctx context.Context, rankerID string) error {
	if err := validateID(rankerID); err != nil {
		return err
	}

	c.log.WithField("ranker", logging.Sanitize(rankerID)).Debug("Deleting ranker")
	_, err := c.call(ctx, http.MethodDelete, rankerPath(rankerID), nil, "")
	return err
}

// Rank scores the candidates in candidateData with a ranker. topAnswers
// limits the number of returned answers; zero or less uses the service
// default.
func (c *Client) Rank(ctx context.Context, rankerID string, candidateData io.Reader, topAnswers int) (*Ranking, error) {
	if err := validateID(rankerID); err != nil {
		return nil, err
	}
	data, err := requireData("candidate data", candidateData)
	if err != nil {
		return nil, err
	}

	body := EncodeRankingRequest(data, topAnswers)
	defer body.Close()

	raw, err := c.call(ctx, http.MethodPost, rankPath(rankerID), body, body.ContentType())
	if err != nil {
		return nil, err
	}
	return DecodeRanking(raw)
}

// RankFile is Rank reading the candidates from path.
func (c *Client) RankFile(ctx context.Context, rankerID, path string, topAnswers int) (*Ranking, error) {
	if err := validateID(rankerID); err != nil {
		return nil, err
	}
	f, err := openDataFile("candidate file", path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Rank(ctx, rankerID, f, topAnswers)
}

// Train creates a ranker and waits until it is available.
func (c *Client) Train(ctx context.Context, name string, trainingData io.Reader, opts ...WaitOption) (*Ranker, error) {
	created, err := c.CreateRanker(ctx, name, trainingData)
	if err != nil {
		return nil, err
	}
	return c.AwaitAvailable(ctx, created.ID, opts...)
}

// call performs one request and returns the body of a 2xx response.
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	resp, err := c.doRequest(ctx, method, path, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyStr := string(raw)
		if readErr != nil {
			bodyStr = fmt.Sprintf("(failed to read response body: %v)", readErr)
		}
		c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("Request failed")
		return nil, &ServiceError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       bodyStr,
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return raw, nil
}

// doRequest is a helper function that builds and sends a request.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.service.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.service.Client().Do(req)
	if err != nil {
		return nil, c.handleQueryError(err, path)
	}
	return resp, nil
}

func (c *Client) handleQueryError(err error, path string) error {
	return fmt.Errorf("error querying %s: %w", path, err)
}

func validateID(rankerID string) error {
	if rankerID == "" {
		return invalidArgument("ranker ID can not be empty")
	}
	if strings.ContainsAny(rankerID, "/?#") || rankerID == "." || rankerID == ".." {
		return invalidArgument("malformed ranker ID %q", rankerID)
	}
	return nil
}

// peekedReader keeps the name of the wrapped source for multipart filenames.
type peekedReader struct {
	*bufio.Reader
	name string
}

func (p *peekedReader) Name() string {
	return p.name
}

// requireData rejects nil, unreadable and empty sources without consuming
// any of their bytes.
func requireData(what string, data io.Reader) (io.Reader, error) {
	if data == nil {
		return nil, invalidArgument("%s is required", what)
	}

	br := bufio.NewReader(data)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidArgument("%s is empty", what)
		}
		return nil, invalidArgument("%s is not readable: %v", what, err)
	}

	if named, ok := data.(interface{ Name() string }); ok {
		return &peekedReader{Reader: br, name: named.Name()}, nil
	}
	return br, nil
}

func openDataFile(what, path string) (*os.File, error) {
	if path == "" {
		return nil, invalidArgument("%s path is required", what)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, invalidArgument("%s does not exist or is not readable: %v", what, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, invalidArgument("%s %s: %v", what, path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, invalidArgument("%s %s is a directory", what, path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, invalidArgument("%s %s is empty", what, path)
	}
	return f, nil
}
