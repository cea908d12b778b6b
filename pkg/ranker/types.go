package ranker

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a ranker as reported by the service.
type Status string

const (
	StatusTraining    Status = "Training"
	StatusAvailable   Status = "Available"
	StatusFailed      Status = "Failed"
	StatusNonExistent Status = "Non_Existent"
	// StatusUnknown stands for any value outside the vocabulary above.
	StatusUnknown Status = "Unknown"
)

// ParseStatus maps a wire value onto the closed status vocabulary. Matching
// is case-insensitive.
func ParseStatus(raw string) Status {
	for _, s := range []Status{StatusTraining, StatusAvailable, StatusFailed, StatusNonExistent} {
		if strings.EqualFold(raw, string(s)) {
			return s
		}
	}
	return StatusUnknown
}

// Ranker is a trained (or training) ranking model.
type Ranker struct {
	// ID is assigned by the service and never changes.
	ID string `json:"ranker_id"`
	// Name is the optional name given at creation.
	Name string `json:"name,omitempty"`
	// URL is the service URL of the ranker resource.
	URL string `json:"url,omitempty"`
	// Created is the creation time, zero if the service did not report it.
	Created time.Time `json:"created,omitzero"`
	// Status is the normalized lifecycle state.
	Status Status `json:"status,omitempty"`
	// RawStatus is the status exactly as the service sent it.
	RawStatus string `json:"-"`
	// StatusDescription is the service's explanation of Status.
	StatusDescription string `json:"status_description,omitempty"`
}

// RankerList is a snapshot of the rankers owned by the caller.
type RankerList struct {
	Rankers []Ranker `json:"rankers"`
}

// Answer is one ranked candidate.
type Answer struct {
	// AnswerID identifies the candidate in the submitted data.
	AnswerID string `json:"answer_id"`
	// Score is the raw ranker score.
	Score float64 `json:"score"`
	// Confidence is the service's confidence in the answer, in [0, 1].
	Confidence float64 `json:"confidence"`
	// Position is the 1-based ranked position.
	Position int `json:"position"`
}

// Ranking is the result of a rank call.
type Ranking struct {
	RankerID  string   `json:"ranker_id,omitempty"`
	URL       string   `json:"url,omitempty"`
	TopAnswer string   `json:"top_answer"`
	Answers   []Answer `json:"answers"`
}
