package pinstate

import "time"

// Status is the pin lifecycle state of a managed CID.
//
// Transitions:
//
//	(new)           -> pending_pin      CID enters the desired set
//	pending_pin     -> pinned           pin succeeded
//	pending_pin     -> failed_pin       pin failed, retries remain
//	failed_pin      -> pinned           retry succeeded
//	failed_pin      -> pending_pin      CID re-entered the desired set (retries reset)
//	failed_pin      -> (unpinnable)     retries exhausted, record deleted
//	any managed     -> unpin_requested  CID left the desired set or teardown
//	unpin_requested -> (deleted)        unpin succeeded
//	unpin_requested -> failed_pin       unpin failed, retried as a pin-cycle record
type Status string

const (
	// StatusPendingPin marks a CID awaiting its first pin attempt, or one
	// whose retries were reset.
	StatusPendingPin Status = "pending_pin"
	// StatusPinned marks a CID the backend confirmed pinned.
	StatusPinned Status = "pinned"
	// StatusFailedPin marks a CID whose last pin attempt failed but which
	// still has retries left.
	StatusFailedPin Status = "failed_pin"
	// StatusUnpinRequested marks a CID scheduled for removal.
	StatusUnpinRequested Status = "unpin_requested"
)

// ManagedStatuses are the states in which the agent still wants, or holds,
// the content. Teardown and profile diffs operate over these.
var ManagedStatuses = []Status{StatusPendingPin, StatusPinned, StatusFailedPin}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPendingPin, StatusPinned, StatusFailedPin, StatusUnpinRequested:
		return true
	}
	return false
}

// Record is one managed CID row.
type Record struct {
	CID         string
	Status      Status
	RetryCount  int
	LastChecked time.Time
}

// Profile is the active profile-document row.
type Profile struct {
	CID           string
	PinnedLocally bool
	LastUpdated   time.Time
}

// Unpinnable is a CID that exhausted its pin retries.
type Unpinnable struct {
	CID          string
	Reason       string
	Reported     bool
	FirstFailure time.Time
	LastRetry    time.Time
}

// Stats summarizes store contents for status reporting.
type Stats struct {
	ByStatus    map[Status]int
	Unpinnables int
	Unreported  int
}
