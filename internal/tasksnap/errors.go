package tasksnap

import "errors"

// Error kinds reported by the core. Callers match them with errors.Is; the
// returned errors wrap one of these with operation detail.
var (
	// ErrReplicaUnavailable means no remote account or replica container is reachable.
	ErrReplicaUnavailable = errors.New("replica unavailable")
	// ErrCreationFailed means serialization or a disk write failed during export.
	ErrCreationFailed = errors.New("snapshot creation failed")
	// ErrDestinationUnavailable means no writable archive location exists.
	ErrDestinationUnavailable = errors.New("snapshot destination unavailable")
	// ErrReadFailed means an artifact could not be read.
	ErrReadFailed = errors.New("snapshot read failed")
	// ErrCorrupt means an artifact was read but failed the integrity check.
	ErrCorrupt = errors.New("snapshot corrupt")
	// ErrRestoreFailed means replacing the store's content failed.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrNotFound means no artifact or metadata exists for an id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrInsufficientSpace means the staging area cannot hold the artifact.
	ErrInsufficientSpace = errors.New("insufficient space")

	// ErrReloadFailed means the store could not be reattached with a new
	// configuration and was rolled back.
	ErrReloadFailed = errors.New("store reload failed")
	// ErrCommitFailed means pending changes could not be flushed to the backend.
	ErrCommitFailed = errors.New("commit failed")
	// ErrDetached means the store has no backend attached.
	ErrDetached = errors.New("store detached")
	// ErrBusy means an export or restore is already running.
	ErrBusy = errors.New("another snapshot operation is in progress")
)

var descriptions = []struct {
	err  error
	desc string
}{
	{ErrReplicaUnavailable, "Sync account is not available. Check that you are signed in."},
	{ErrCreationFailed, "The backup could not be created."},
	{ErrDestinationUnavailable, "There is no place to save the backup."},
	{ErrReadFailed, "The backup file could not be read."},
	{ErrCorrupt, "The backup file is damaged or not a backup."},
	{ErrRestoreFailed, "Your data could not be restored from the backup."},
	{ErrNotFound, "The backup no longer exists."},
	{ErrInsufficientSpace, "There is not enough space to create the backup."},
	{ErrReloadFailed, "Sync settings could not be applied. Your data is unchanged."},
	{ErrCommitFailed, "Your changes could not be saved."},
	{ErrDetached, "Storage is not available right now."},
	{ErrBusy, "A backup or restore is already running."},
}

// Describe returns a short human-readable description of err, suitable for
// showing to a user. Unknown errors get a generic message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	for _, d := range descriptions {
		if errors.Is(err, d.err) {
			return d.desc
		}
	}
	return "Something went wrong."
}
