package models

// Status is the lifecycle state of a TranscriptJob. The set is
// strictly ordered: pending -> processing -> {completed, failed}.
// Terminal states admit no further transitions.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a permitted transition.
// Transitions out of a terminal state and transitions to an
// earlier-ordered state are rejected; callers should log such attempts
// as anomalies since they indicate an engine-side status regression.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}
