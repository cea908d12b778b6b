package ranker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strconv"
	"time"
)

// Multipart part names understood by the service.
const (
	PartTrainingData     = "training_data"
	PartTrainingMetadata = "training_metadata"
	PartAnswerData       = "answer_data"
	PartAnswers          = "answers"
)

const textPlainUTF8 = "text/plain; charset=utf-8"

var errBodyClosed = errors.New("multipart body closed")

// MultipartBody is a streamed multipart/form-data request body. The source
// data is copied into the body exactly once, while the body is read. Close
// must always be called; it releases the encoding goroutine whether or not
// the body was read to the end.
type MultipartBody struct {
	pr          *io.PipeReader
	contentType string
	done        chan struct{}
}

func newMultipartBody(write func(mw *multipart.Writer) error) *MultipartBody {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	body := &MultipartBody{
		pr:          pr,
		contentType: mw.FormDataContentType(),
		done:        make(chan struct{}),
	}
	go func() {
		defer close(body.done)
		err := write(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return body
}

// ContentType returns the Content-Type header value, including the boundary.
func (b *MultipartBody) ContentType() string {
	return b.contentType
}

func (b *MultipartBody) Read(p []byte) (int, error) {
	return b.pr.Read(p)
}

// Close stops the encoder and waits for it to exit. It is safe to call more
// than once.
func (b *MultipartBody) Close() error {
	b.pr.CloseWithError(errBodyClosed)
	<-b.done
	return nil
}

type trainingMetadata struct {
	Name string `json:"name,omitempty"`
}

// EncodeTrainingRequest builds the body of a create-ranker request: the
// training data as a binary part followed by the JSON metadata as a text part.
func EncodeTrainingRequest(name string, trainingData io.Reader) *MultipartBody {
	return newMultipartBody(func(mw *multipart.Writer) error {
		if err := writeFilePart(mw, PartTrainingData, trainingData); err != nil {
			return err
		}
		metadata, err := json.Marshal(trainingMetadata{Name: name})
		if err != nil {
			return fmt.Errorf("marshal training metadata: %w", err)
		}
		return writeTextPart(mw, PartTrainingMetadata, metadata)
	})
}

// EncodeRankingRequest builds the body of a rank request. topAnswers is only
// sent when it is positive; otherwise the service default applies.
func EncodeRankingRequest(candidateData io.Reader, topAnswers int) *MultipartBody {
	return newMultipartBody(func(mw *multipart.Writer) error {
		if err := writeFilePart(mw, PartAnswerData, candidateData); err != nil {
			return err
		}
		if topAnswers > 0 {
			return writeTextPart(mw, PartAnswers, []byte(strconv.Itoa(topAnswers)))
		}
		return nil
	})
}

func writeFilePart(mw *multipart.Writer, field string, data io.Reader) error {
	part, err := mw.CreateFormFile(field, sourceName(data, field))
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func writeTextPart(mw *multipart.Writer, field string, value []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, field))
	h.Set("Content-Type", textPlainUTF8)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(value); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

// sourceName uses the base name of named sources such as *os.File.
func sourceName(data io.Reader, fallback string) string {
	if named, ok := data.(interface{ Name() string }); ok {
		if name := filepath.Base(named.Name()); name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	return fallback
}

type wireRanker struct {
	RankerID          *string `json:"ranker_id"`
	Name              string  `json:"name"`
	URL               string  `json:"url"`
	Created           string  `json:"created"`
	Status            string  `json:"status"`
	StatusDescription string  `json:"status_description"`
}

func (w *wireRanker) toRanker() (Ranker, error) {
	if w.RankerID == nil || *w.RankerID == "" {
		return Ranker{}, errors.New("missing ranker_id")
	}
	r := Ranker{
		ID:                *w.RankerID,
		Name:              w.Name,
		URL:               w.URL,
		Status:            ParseStatus(w.Status),
		RawStatus:         w.Status,
		StatusDescription: w.StatusDescription,
	}
	if w.Created != "" {
		created, err := time.Parse(time.RFC3339Nano, w.Created)
		if err != nil {
			return Ranker{}, fmt.Errorf("invalid created timestamp %q: %w", w.Created, err)
		}
		r.Created = created
	}
	return r, nil
}

func decodeJSON(target string, body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &DecodeError{Target: target, Err: errors.New("empty response body")}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{Target: target, Err: err}
	}
	return nil
}

// DecodeRanker decodes a single ranker. The ranker id is required.
func DecodeRanker(body []byte) (*Ranker, error) {
	var w wireRanker
	if err := decodeJSON("ranker", body, &w); err != nil {
		return nil, err
	}
	r, err := w.toRanker()
	if err != nil {
		return nil, &DecodeError{Target: "ranker", Err: err}
	}
	return &r, nil
}

// DecodeRankerList decodes a ranker listing. The result is never nil and an
// absent list decodes as empty.
func DecodeRankerList(body []byte) (*RankerList, error) {
	var w struct {
		Rankers []wireRanker `json:"rankers"`
	}
	if err := decodeJSON("ranker list", body, &w); err != nil {
		return nil, err
	}
	list := &RankerList{Rankers: make([]Ranker, 0, len(w.Rankers))}
	for i := range w.Rankers {
		r, err := w.Rankers[i].toRanker()
		if err != nil {
			return nil, &DecodeError{Target: "ranker list", Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		list.Rankers = append(list.Rankers, r)
	}
	return list, nil
}

// DecodeRanking decodes a rank response. The top answer is required; answers
// get their positions from the response order.
func DecodeRanking(body []byte) (*Ranking, error) {
	var w struct {
		RankerID  string  `json:"ranker_id"`
		URL       string  `json:"url"`
		TopAnswer *string `json:"top_answer"`
		Answers   []struct {
			AnswerID   *string `json:"answer_id"`
			Score      float64 `json:"score"`
			Confidence float64 `json:"confidence"`
		} `json:"answers"`
	}
	if err := decodeJSON("ranking", body, &w); err != nil {
		return nil, err
	}
	if w.TopAnswer == nil {
		return nil, &DecodeError{Target: "ranking", Err: errors.New("missing top_answer")}
	}

	ranking := &Ranking{
		RankerID:  w.RankerID,
		URL:       w.URL,
		TopAnswer: *w.TopAnswer,
		Answers:   make([]Answer, 0, len(w.Answers)),
	}
	for i, a := range w.Answers {
		if a.AnswerID == nil {
			return nil, &DecodeError{Target: "ranking", Err: fmt.Errorf("answer %d: missing answer_id", i)}
		}
		ranking.Answers = append(ranking.Answers, Answer{
			AnswerID:   *a.AnswerID,
			Score:      a.Score,
			Confidence: a.Confidence,
			Position:   i + 1,
		})
	}
	return ranking, nil
}
