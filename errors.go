// Package concord is a conflict-free replicated document engine: a
// JSON-like tree of maps, lists, text and counters that any number of
// replicas may edit offline and merge deterministically, with no
// coordinator and no unresolvable conflicts.
package concord

import "errors"

var (
	// ErrInvalidTarget: an edit addresses a key, index or object that
	// does not exist or has the wrong kind. Aborts the edit only.
	ErrInvalidTarget = errors.New("concord: target does not exist or has the wrong kind")

	// ErrCorruptHistory: serialized bytes are malformed or the change
	// set is internally inconsistent. Fatal to the load call.
	ErrCorruptHistory = errors.New("concord: malformed or inconsistent change history")

	// ErrIncompatibleActor: two histories claim the same actor with
	// divergent operation sequences. Neither document is mutated.
	ErrIncompatibleActor = errors.New("concord: same actor with divergent histories")

	// ErrUnresolvedChanges: strict-mode surfacing of changes whose
	// dependencies never arrived.
	ErrUnresolvedChanges = errors.New("concord: changes with unmet dependencies")

	ErrTransactionOpen   = errors.New("concord: a transaction is already open")
	ErrClosedTransaction = errors.New("concord: transaction already committed or aborted")
)
