package ingest

import "errors"

// State tracks one ingestion through its lifecycle. Rows only become
// visible at Active; every failure state leaves the metadata store
// untouched, so a crashed or failed ingestion is invisible to readers
// and its orphaned blobs are reclaimed by the garbage collector after
// the grace period.
type State string

const (
	StatePending    State = "pending"
	StateFetching   State = "fetching"
	StateVerifying  State = "verifying"
	StateStoring    State = "storing"
	StateCommitting State = "committing"
	StateActive     State = "active"

	StateFetchFailed    State = "fetch_failed"
	StateDigestMismatch State = "digest_mismatch"
	StateStoreFailed    State = "store_failed"
)

// failureState maps a classified ingestion error to its terminal
// state. Errors outside the three pipeline failure modes (validation,
// conflict, not-found) have no terminal state of their own.
func failureState(err error) State {
	switch {
	case errors.Is(err, ErrFetch):
		return StateFetchFailed
	case errors.Is(err, ErrIntegrity):
		return StateDigestMismatch
	case errors.Is(err, ErrStore):
		return StateStoreFailed
	default:
		return ""
	}
}
