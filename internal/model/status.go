package model

// Status describes the sync lifecycle of an OrderRecord.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSyncing Status = "SYNCING"
	StatusSynced  Status = "SYNCED"
	StatusFailed  Status = "FAILED"
)

// Syncing->Pending exists for boot recovery after a crash mid-push;
// Failed->Syncing exists for operator resubmission. Synced is final.
var validNext = map[Status]map[Status]bool{
	StatusPending: {StatusSyncing: true},
	StatusSyncing: {StatusSynced: true, StatusFailed: true, StatusPending: true},
	StatusSynced:  {},
	StatusFailed:  {StatusSyncing: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
