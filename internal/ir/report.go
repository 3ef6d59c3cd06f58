package ir

import "time"

// Status is the terminal state of one executed action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusNoop    Status = "noop"
)

// ActionResult is the outcome for one resource address.
type ActionResult struct {
	Address    string
	Kind       ActionKind
	Status     Status
	ProviderID string
	Err        error
	Duration   time.Duration
}

// Report maps resource addresses to their outcomes. It is the sole artifact
// an execution hands back; callers must inspect it rather than rely on a
// single success boolean.
type Report struct {
	Results map[string]*ActionResult
}

func NewReport() *Report {
	return &Report{Results: make(map[string]*ActionResult)}
}

// Counts tallies results by status.
func (r *Report) Counts() (success, failed, skipped, noop int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			success++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		case StatusNoop:
			noop++
		}
	}
	return
}

// Converged reports whether every action completed without failure.
func (r *Report) Converged() bool {
	_, failed, skipped, _ := r.Counts()
	return failed == 0 && skipped == 0
}
