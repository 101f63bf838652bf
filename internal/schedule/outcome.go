package schedule

import (
	"errors"
	"time"
)

var (
	// ErrNoLinks flags a campus whose landing page section listed no
	// schedule files.
	ErrNoLinks = errors.New("no schedule links found")
	// ErrSyncRunning is returned when a run of the same kind is already in
	// progress.
	ErrSyncRunning = errors.New("sync already running")
)

// Status is the aggregate result of one run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// Kind names what a run synced.
type Kind string

const (
	KindSchedule Kind = "schedule"
	KindTimes    Kind = "times"
)

// Result is the outcome for one campus or one reference image.
type Result struct {
	Name     string   `json:"name"`
	Files    int      `json:"files"`
	Lessons  int      `json:"lessons"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
	Err      error    `json:"-"`
}

// OK reports whether the item completed.
func (r Result) OK() bool {
	return r.Err == nil
}

func (r *Result) fail(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

// Outcome is the result of one UpdateSchedule or UpdateReferenceTimes run.
type Outcome struct {
	RunID    string    `json:"run_id"`
	Kind     Kind      `json:"kind"`
	Status   Status    `json:"status"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
	Error    string    `json:"error,omitempty"`
	Err      error     `json:"-"`
}

// Merged is the number of lessons written across all campuses.
func (o Outcome) Merged() int {
	n := 0
	for _, r := range o.Results {
		n += r.Lessons
	}
	return n
}

// Failed returns the items that did not complete.
func (o Outcome) Failed() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Result returns the item named name.
func (o Outcome) Result(name string) (Result, bool) {
	for _, r := range o.Results {
		if r.Name == name {
			return r, true
		}
	}
	return Result{}, false
}

// settle derives Status from the per-item results.
func (o *Outcome) settle(finished time.Time) {
	o.Finished = finished
	if o.Err != nil {
		o.Error = o.Err.Error()
		o.Status = StatusFailure
		return
	}
	ok := 0
	for _, r := range o.Results {
		if r.OK() {
			ok++
		}
	}
	switch {
	case len(o.Results) > 0 && ok == len(o.Results):
		o.Status = StatusSuccess
	case ok > 0:
		o.Status = StatusPartial
	default:
		o.Status = StatusFailure
	}
}
