package guard

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Feedback entry kinds.
const (
	FeedbackRating = "rating"
	FeedbackGap    = "gap"
)

// Feedback is one user signal about retrieval quality: a rating of a
// query's answer, or a report that an expected unit never showed up.
type Feedback struct {
	Type        string    `json:"type"`
	Query       string    `json:"query"`
	Score       float64   `json:"score,omitempty"`
	MissingUnit string    `json:"missing_unit,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FeedbackStore is an append-only JSON-lines log. Appends are atomic at
// the line level (O_APPEND), reads stream without loading the whole file.
type FeedbackStore struct {
	path string
	mu   sync.Mutex
}

// NewFeedbackStore creates a store writing to path.
func NewFeedbackStore(path string) *FeedbackStore {
	return &FeedbackStore{path: path}
}

// Append writes one entry. A zero timestamp is filled in.
func (s *FeedbackStore) Append(f Feedback) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write(append(line, '\n'))
	return err
}

// Each streams every entry in append order. Malformed lines are skipped.
// Returning an error from fn stops the walk and surfaces the error.
func (s *FeedbackStore) Each(fn func(Feedback) error) error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var f Feedback
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// All reads every entry into memory.
func (s *FeedbackStore) All() ([]Feedback, error) {
	var all []Feedback
	err := s.Each(func(f Feedback) error {
		all = append(all, f)
		return nil
	})
	return all, err
}
