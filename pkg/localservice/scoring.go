package localservice

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// answerIDColumn must head the first column of candidate data.
const answerIDColumn = "answer_id"

type rankedAnswer struct {
	AnswerID   string  `json:"answer_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

type rankResponse struct {
	RankerID  string         `json:"ranker_id"`
	URL       string         `json:"url"`
	TopAnswer string         `json:"top_answer"`
	Answers   []rankedAnswer `json:"answers"`
}

// validateTrainingData checks the shape of training data: a header row, then
// at least one row of numeric features ending with an integer relevance
// label. The error becomes the status description of the failed ranker.
func validateTrainingData(data []byte) error {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return fmt.Errorf("training data is not valid CSV: %w", err)
	}
	if len(records) == 0 {
		return errors.New("training data is missing its header row")
	}
	if len(records[0]) < 3 {
		return errors.New("training data needs a query id column, at least one feature column and a relevance column")
	}
	rows := records[1:]
	if len(rows) == 0 {
		return errors.New("training data has no data rows")
	}
	for i, row := range rows {
		for _, cell := range row[1 : len(row)-1] {
			if _, err := parseFeature(cell); err != nil {
				return fmt.Errorf("training data row %d: invalid feature %q", i+1, cell)
			}
		}
		label := strings.TrimSpace(row[len(row)-1])
		if n, err := strconv.Atoi(label); err != nil || n < 0 {
			return fmt.Errorf("training data row %d: invalid relevance label %q", i+1, label)
		}
	}
	return nil
}

// parseFeature parses one feature cell. NaN and infinities are rejected: they
// can not be ordered or encoded as JSON.
func parseFeature(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", cell)
	}
	return v, nil
}

// scoreCandidates scores every candidate row by the sum of its features and
// returns them best first. Ties keep their input order. Confidences are the
// softmax of the scores.
func scoreCandidates(data io.Reader) ([]rankedAnswer, error) {
	reader := csv.NewReader(data)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("candidate data is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("candidate data is not valid CSV: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), answerIDColumn) {
		return nil, fmt.Errorf("candidate data must start with an %s column", answerIDColumn)
	}

	var answers []rankedAnswer
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("candidate data is not valid CSV: %w", err)
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			return nil, fmt.Errorf("candidate row %d has no %s", line, answerIDColumn)
		}
		var score float64
		for _, cell := range row[1:] {
			v, err := parseFeature(cell)
			if err != nil {
				return nil, fmt.Errorf("candidate row %d: invalid feature %q", line, cell)
			}
			score += v
		}
		if math.IsInf(score, 0) {
			return nil, fmt.Errorf("candidate row %d: score out of range", line)
		}
		answers = append(answers, rankedAnswer{AnswerID: id, Score: score})
	}
	if len(answers) == 0 {
		return nil, errors.New("candidate data has no candidates")
	}

	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].Score > answers[j].Score
	})

	// answers[0] holds the maximum, which keeps the exponentials bounded.
	var total float64
	for i := range answers {
		answers[i].Confidence = math.Exp(answers[i].Score - answers[0].Score)
		total += answers[i].Confidence
	}
	for i := range answers {
		answers[i].Confidence /= total
	}
	return answers, nil
}
