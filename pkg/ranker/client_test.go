package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/model-ranker/pkg/transport"
	"github.com/docker/model-ranker/pkg/transport/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestClient(t *testing.T) (*Client, *mocks.MockHTTPClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockClient := mocks.NewMockHTTPClient(ctrl)
	return New(transport.NewContextForMock(mockClient)), mockClient
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestCreateRanker(t *testing.T) {
	client, mockClient := newTestClient(t)
	trainingData := "qid,f1,f2,rank\n1,0.1,0.9,4\n1,0.4,0.2,0\n"

	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "http://localhost/v1/rankers", req.URL.String())

		parts := readParts(t, req.Body, req.Header.Get("Content-Type"))
		require.Len(t, parts, 2)
		assert.Equal(t, trainingData, parts[0].data)
		assert.JSONEq(t, `{"name":"ranker-example-1"}`, parts[1].data)

		return jsonResponse(http.StatusOK, `{"ranker_id":"3b140ax14-rank-10383","name":"ranker-example-1","status":"Training"}`), nil
	})

	ranker, err := client.CreateRanker(context.Background(), "ranker-example-1", strings.NewReader(trainingData))
	require.NoError(t, err)
	assert.Equal(t, "3b140ax14-rank-10383", ranker.ID)
	assert.Equal(t, StatusTraining, ranker.Status)
}

func TestCreateRankerMissingID(t *testing.T) {
	client, mockClient := newTestClient(t)
	mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"name":"x","status":"Training"}`), nil)

	_, err := client.CreateRanker(context.Background(), "x", strings.NewReader("qid,rank\n1,1\n"))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestCreateRankerInvalidArguments(t *testing.T) {
	emptyFile := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(emptyFile, nil, 0o644))

	tests := []struct {
		name   string
		create func(c *Client) error
	}{
		{
			name: "nil reader",
			create: func(c *Client) error {
				_, err := c.CreateRanker(context.Background(), "x", nil)
				return err
			},
		},
		{
			name: "empty reader",
			create: func(c *Client) error {
				_, err := c.CreateRanker(context.Background(), "x", strings.NewReader(""))
				return err
			},
		},
		{
			name: "unreadable reader",
			create: func(c *Client) error {
				_, err := c.CreateRanker(context.Background(), "x", failingReader{})
				return err
			},
		},
		{
			name: "missing file",
			create: func(c *Client) error {
				_, err := c.CreateRankerFromFile(context.Background(), "x", filepath.Join(t.TempDir(), "nope.csv"))
				return err
			},
		},
		{
			name: "empty file",
			create: func(c *Client) error {
				_, err := c.CreateRankerFromFile(context.Background(), "x", emptyFile)
				return err
			},
		},
		{
			name: "directory",
			create: func(c *Client) error {
				_, err := c.CreateRankerFromFile(context.Background(), "x", t.TempDir())
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No EXPECT: any call to the transport fails the test.
			client, _ := newTestClient(t)
			err := tt.create(client)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestCreateRankerRoundTrip(t *testing.T) {
	client, mockClient := newTestClient(t)
	trainingData := bytes.Repeat([]byte("1,0.25,0.75,2\n"), 1000)

	// Echo the metadata name and the size of the uploaded data back.
	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		parts := readParts(t, req.Body, req.Header.Get("Content-Type"))
		require.Len(t, parts, 2)
		var metadata struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal([]byte(parts[1].data), &metadata))
		echo, err := json.Marshal(map[string]string{
			"ranker_id": fmt.Sprintf("bytes-%d", len(parts[0].data)),
			"name":      metadata.Name,
			"status":    "Training",
		})
		require.NoError(t, err)
		return jsonResponse(http.StatusOK, string(echo)), nil
	})

	ranker, err := client.CreateRanker(context.Background(), "round trip", bytes.NewReader(trainingData))
	require.NoError(t, err)
	assert.Equal(t, "round trip", ranker.Name)
	assert.Equal(t, fmt.Sprintf("bytes-%d", len(trainingData)), ranker.ID)
}

func TestCreateRankerServiceError(t *testing.T) {
	client, mockClient := newTestClient(t)
	mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusBadRequest, `{"error":"training data has no rows"}`), nil)

	_, err := client.CreateRanker(context.Background(), "", strings.NewReader("qid,rank\n"))
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, http.StatusBadRequest, serviceErr.StatusCode)
	assert.Contains(t, serviceErr.Body, "training data has no rows")
	assert.Equal(t, "POST /v1/rankers failed with status 400 Bad Request: {\"error\":\"training data has no rows\"}", err.Error())
}

func TestGetRankerStatus(t *testing.T) {
	client, mockClient := newTestClient(t)
	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "http://localhost/v1/rankers/r-1", req.URL.String())
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		return jsonResponse(http.StatusOK, `{"ranker_id":"r-1","status":"Available"}`), nil
	})

	ranker, err := client.GetRankerStatus(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, ranker.Status)
}

func TestGetRankerStatusInvalidID(t *testing.T) {
	client, _ := newTestClient(t)
	for _, id := range []string{"", "a/b", "a?b=c", ".."} {
		_, err := client.GetRankerStatus(context.Background(), id)
		require.ErrorIs(t, err, ErrInvalidArgument, id)
	}
}

func TestListRankers(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantIDs []string
	}{
		{name: "several", body: `{"rankers":[{"ranker_id":"a"},{"ranker_id":"b"}]}`, wantIDs: []string{"a", "b"}},
		{name: "empty", body: `{"rankers":[]}`, wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mockClient := newTestClient(t)
			mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, http.MethodGet, req.Method)
				assert.Equal(t, "http://localhost/v1/rankers", req.URL.String())
				return jsonResponse(http.StatusOK, tt.body), nil
			})

			list, err := client.ListRankers(context.Background())
			require.NoError(t, err)
			require.NotNil(t, list)
			ids := make([]string, 0, len(list.Rankers))
			for _, r := range list.Rankers {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDeleteRanker(t *testing.T) {
	t.Run("empty id never reaches the transport", func(t *testing.T) {
		client, _ := newTestClient(t)
		err := client.DeleteRanker(context.Background(), "")
		require.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("not found", func(t *testing.T) {
		client, mockClient := newTestClient(t)
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusNotFound, `{"error":"Not Found"}`), nil)

		err := client.DeleteRanker(context.Background(), "abc")
		var serviceErr *ServiceError
		require.ErrorAs(t, err, &serviceErr)
		assert.Equal(t, http.StatusNotFound, serviceErr.StatusCode)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("success", func(t *testing.T) {
		client, mockClient := newTestClient(t)
		mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodDelete, req.Method)
			assert.Equal(t, "http://localhost/v1/rankers/abc", req.URL.String())
			return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
		})

		require.NoError(t, client.DeleteRanker(context.Background(), "abc"))
	})
}

func TestRank(t *testing.T) {
	client, mockClient := newTestClient(t)
	candidates := "answer_id,f1,f2\na1,0.2,0.1\na2,0.9,0.8\n"

	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "http://localhost/v1/rankers/r-1/rank", req.URL.String())
		parts := readParts(t, req.Body, req.Header.Get("Content-Type"))
		require.Len(t, parts, 2)
		assert.Equal(t, candidates, parts[0].data)
		assert.Equal(t, "1", parts[1].data)
		return jsonResponse(http.StatusOK, `{"ranker_id":"r-1","top_answer":"a2","answers":[{"answer_id":"a2","score":1.7,"confidence":0.8}]}`), nil
	})

	ranking, err := client.Rank(context.Background(), "r-1", strings.NewReader(candidates), 1)
	require.NoError(t, err)
	assert.Equal(t, "a2", ranking.TopAnswer)
	require.Len(t, ranking.Answers, 1)
	assert.Equal(t, 1, ranking.Answers[0].Position)
}

func TestRankDefaultTopAnswersAreNotForwarded(t *testing.T) {
	var seen [][]formPart
	client, mockClient := newTestClient(t)
	mockClient.EXPECT().Do(gomock.Any()).Times(3).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		seen = append(seen, readParts(t, req.Body, req.Header.Get("Content-Type")))
		return jsonResponse(http.StatusOK, `{"top_answer":"a1","answers":[{"answer_id":"a1","score":1}]}`), nil
	})

	for _, top := range []int{0, -1, -100} {
		ranking, err := client.Rank(context.Background(), "r-1", strings.NewReader("answer_id,f1\na1,1\n"), top)
		require.NoError(t, err)
		assert.Equal(t, "a1", ranking.TopAnswer)
	}

	require.Len(t, seen, 3)
	for _, parts := range seen {
		require.Len(t, parts, 1)
		assert.Equal(t, PartAnswerData, parts[0].name)
	}
	assert.Equal(t, seen[0], seen[1])
	assert.Equal(t, seen[0], seen[2])
}

func TestRankErrors(t *testing.T) {
	t.Run("missing top answer", func(t *testing.T) {
		client, mockClient := newTestClient(t)
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"answers":[]}`), nil)

		_, err := client.Rank(context.Background(), "r-1", strings.NewReader("answer_id\na1\n"), 0)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
	})

	t.Run("ranker not ready", func(t *testing.T) {
		client, mockClient := newTestClient(t)
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusConflict, `{"error":"ranker is still training"}`), nil)

		_, err := client.Rank(context.Background(), "r-1", strings.NewReader("answer_id\na1\n"), 0)
		var serviceErr *ServiceError
		require.ErrorAs(t, err, &serviceErr)
		assert.Equal(t, http.StatusConflict, serviceErr.StatusCode)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		client, _ := newTestClient(t)
		_, err := client.Rank(context.Background(), "", strings.NewReader("answer_id\na1\n"), 0)
		require.ErrorIs(t, err, ErrInvalidArgument)
		_, err = client.Rank(context.Background(), "r-1", nil, 0)
		require.ErrorIs(t, err, ErrInvalidArgument)
		_, err = client.RankFile(context.Background(), "r-1", "", 0)
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	client, mockClient := newTestClient(t)
	connErr := errors.New("connection refused")
	mockClient.EXPECT().Do(gomock.Any()).Return(nil, connErr)

	_, err := client.ListRankers(context.Background())
	require.ErrorIs(t, err, connErr)
	assert.EqualError(t, err, "error querying /v1/rankers: connection refused")
}

func TestServiceErrorMatching(t *testing.T) {
	tests := []struct {
		status int
		target error
		want   bool
	}{
		{status: http.StatusNotFound, target: ErrNotFound, want: true},
		{status: http.StatusUnauthorized, target: ErrUnauthorized, want: true},
		{status: http.StatusForbidden, target: ErrUnauthorized, want: true},
		{status: http.StatusServiceUnavailable, target: ErrServiceUnavailable, want: true},
		{status: http.StatusInternalServerError, target: ErrNotFound, want: false},
		{status: http.StatusNotFound, target: ErrInvalidArgument, want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &ServiceError{Method: http.MethodGet, Path: "/v1/rankers", StatusCode: tt.status})
			assert.Equal(t, tt.want, errors.Is(err, tt.target))
		})
	}
}

func TestRecordedExchanges(t *testing.T) {
	client, mockClient := newTestClient(t)
	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "http://localhost/debug/requests?ranker=a+b", req.URL.String())
		return jsonResponse(http.StatusOK, `{"count":0}`), nil
	})

	body, err := client.RecordedExchanges(context.Background(), "a b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0}`, string(body))

	_, err = client.RecordedExchanges(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
