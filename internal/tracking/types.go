// Package tracking runs the external detection and tracking tools over a
// directory of NetCDF files, one scale and time index at a time.
package tracking

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"meanie3d/internal/store"
)

// Stages reported in events and recorded in the ledger.
const (
	StageDetect = "detect"
	StageTrack  = "track"
)

// Statuses reported in events. They match the ledger statuses.
const (
	StatusRunning   = store.StatusRunning
	StatusSucceeded = store.StatusSucceeded
	StatusFailed    = store.StatusFailed
	StatusSkipped   = store.StatusSkipped
)

// ErrStepsFailed is returned by Summary.Err when at least one file failed.
var ErrStepsFailed = errors.New("one or more files failed")

// NoTimeIndex runs over files without passing --time-index.
const NoTimeIndex = -1

// Event reports the progress of one file through one stage.
type Event struct {
	Scale     string
	TimeIndex int
	File      string
	Index     int
	Total     int
	Stage     string
	Status    string
	Err       error
}

// Observer receives events. It is called from the goroutine running the
// scale, so it must be safe for concurrent use when scales run in parallel.
type Observer func(Event)

// Failure describes one failed step.
type Failure struct {
	Scale     string
	TimeIndex int
	File      string
	Stage     string
	Err       error
}

func (f Failure) String() string {
	where := f.File
	if f.TimeIndex != NoTimeIndex {
		where = fmt.Sprintf("%s[t=%d]", f.File, f.TimeIndex)
	}
	if f.Scale != "" {
		where = fmt.Sprintf("scale %s: %s", f.Scale, where)
	}
	return fmt.Sprintf("%s (%s): %v", where, f.Stage, f.Err)
}

// Summary counts what a run did. The zero value is ready to use and it is
// safe for concurrent use.
type Summary struct {
	mu sync.Mutex

	Processed int
	Skipped   int
	Failed    int
	Failures  []Failure
}

func (s *Summary) processed() {
	s.mu.Lock()
	s.Processed++
	s.mu.Unlock()
}

func (s *Summary) skipped() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *Summary) failed(f Failure) {
	s.mu.Lock()
	s.Failed++
	s.Failures = append(s.Failures, f)
	s.mu.Unlock()
}

// Merge adds the counts of other.
func (s *Summary) Merge(other *Summary) {
	if other == nil || other == s {
		return
	}
	other.mu.Lock()
	processed, skipped, failed := other.Processed, other.Skipped, other.Failed
	failures := append([]Failure(nil), other.Failures...)
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed += processed
	s.Skipped += skipped
	s.Failed += failed
	s.Failures = append(s.Failures, failures...)
	sort.SliceStable(s.Failures, func(i, j int) bool {
		if s.Failures[i].Scale != s.Failures[j].Scale {
			return s.Failures[i].Scale < s.Failures[j].Scale
		}
		return s.Failures[i].TimeIndex < s.Failures[j].TimeIndex
	})
}

// Err returns ErrStepsFailed, listing the failures, when any file failed.
func (s *Summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Failed == 0 {
		return nil
	}
	first := s.Failures[0]
	if s.Failed == 1 {
		return fmt.Errorf("%w: %s", ErrStepsFailed, first)
	}
	return fmt.Errorf("%w: %d failures, first: %s", ErrStepsFailed, s.Failed, first)
}

// TimeRange selects the time indices [Start, End) of files with a time
// dimension. Both unset (NoTimeIndex) runs without time indices.
type TimeRange struct {
	Start int
	End   int
}

// AllTimes is the range that passes no time index.
var AllTimes = TimeRange{Start: NoTimeIndex, End: NoTimeIndex}

// Validate checks that both bounds are set, or neither, and that start is
// not after end.
func (r TimeRange) Validate() error {
	if r.Start == NoTimeIndex && r.End == NoTimeIndex {
		return nil
	}
	if r.Start == NoTimeIndex || r.End == NoTimeIndex {
		return fmt.Errorf("start-time-index and end-time-index must both be set")
	}
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("time indices must not be negative")
	}
	if r.Start > r.End {
		return fmt.Errorf("start-time-index is after end-time-index!")
	}
	return nil
}

// Indices lists the time indices to run, or NoTimeIndex alone.
func (r TimeRange) Indices() []int {
	if r.Start == NoTimeIndex && r.End == NoTimeIndex {
		return []int{NoTimeIndex}
	}
	out := make([]int, 0, r.End-r.Start)
	for t := r.Start; t < r.End; t++ {
		out = append(out, t)
	}
	return out
}
