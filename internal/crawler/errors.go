package crawler

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job id is reused.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNotFound is returned by state readers when nothing was persisted yet.
	ErrNotFound = errors.New("not found")
)

var transitions = map[JobStatus][]JobStatus{
	// Queued to error is the submission path only: the job was recorded but could not be
	// enqueued, so it never runs. Runs always pass through running.
	JobStatusQueued:  {JobStatusRunning, JobStatusError},
	JobStatusRunning: {JobStatusFinished, JobStatusError},
}

// CanTransition reports whether a job may move from one status to another.
// Running to interrupted is reserved for startup recovery and is not listed here.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
