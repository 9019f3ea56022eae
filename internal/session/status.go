package session

// Lifecycle state of a build session.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusProvisioning      Status = "provisioning"
	StatusUnarchiving       Status = "unarchiving"
	StatusUploading         Status = "uploading"
	StatusBuilding          Status = "building"
	StatusNormalizingOutput Status = "normalizing-output"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
	StatusTimedOut          Status = "timed-out"
)

// Position of each non-terminal status in the forward-only stage order.
// Terminal statuses are absent; they are reachable from anywhere and
// absorb all further transitions.
var statusRank = map[Status]int{
	StatusQueued:            0,
	StatusProvisioning:      1,
	StatusUnarchiving:       2,
	StatusUploading:         3,
	StatusBuilding:          4,
	StatusNormalizingOutput: 5,
}

// Returns true for statuses that end a session. No transition leaves a
// terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}
