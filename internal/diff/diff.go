// Package diff computes three-way change-sets between the last-synced
// snapshot (the common ancestor), the local working state, and the
// remote state read from the shared folder.
//
// The differencer is pure: it classifies every id present in any of the
// three states and leaves all policy decisions to the resolver. Equality
// is canonical-column equality from the ledger package, so timestamp
// formatting drift never shows up as a change.
package diff

import (
	"sort"

	"github.com/famledger/famledger/internal/ledger"
)

// Class describes how a record changed relative to the ancestor on each
// side.
type Class int

const (
	// Unchanged means local, remote, and ancestor are all equal.
	Unchanged Class = iota
	// LocalOnlyChange means local edited, remote still matches ancestor.
	LocalOnlyChange
	// RemoteOnlyChange means remote edited, local still matches ancestor.
	RemoteOnlyChange
	// BothChangedSame means both sides edited and arrived at equal content.
	BothChangedSame
	// Conflict means both sides edited with differing content.
	Conflict
	// LocalAdded means the id is new on the local side only.
	LocalAdded
	// RemoteAdded means the id is new on the remote side only.
	RemoteAdded
	// BothAddedSame means both sides independently added equal content.
	BothAddedSame
	// BothAddedConflict means both sides added the same id with
	// different content (an id collision).
	BothAddedConflict
	// LocalDeleted means local deleted an id the remote left untouched.
	LocalDeleted
	// RemoteDeleted means remote deleted an id the local left untouched.
	RemoteDeleted
	// BothDeleted means both sides deleted the id.
	BothDeleted
	// DeleteEditConflict means one side deleted while the other edited.
	DeleteEditConflict
)

// String returns a short name for logging.
func (c Class) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case LocalOnlyChange:
		return "local-only-change"
	case RemoteOnlyChange:
		return "remote-only-change"
	case BothChangedSame:
		return "both-changed-identically"
	case Conflict:
		return "conflict"
	case LocalAdded:
		return "local-added"
	case RemoteAdded:
		return "remote-added"
	case BothAddedSame:
		return "both-added-identically"
	case BothAddedConflict:
		return "id-collision"
	case LocalDeleted:
		return "local-deleted"
	case RemoteDeleted:
		return "remote-deleted"
	case BothDeleted:
		return "both-deleted"
	case DeleteEditConflict:
		return "delete-edit-conflict"
	default:
		return "unknown"
	}
}

// Change is the classification of a single id. Ancestor, Local, and
// Remote are nil where the record is absent from that state.
type Change[T ledger.Record] struct {
	ID    string
	Class Class

	Ancestor *T
	Local    *T
	Remote   *T
}

// Changeset is the full classification for one entity table (or one
// month bucket of transactions), ordered by id for determinism.
type Changeset[T ledger.Record] []Change[T]

// Count returns how many changes carry the given class.
func (cs Changeset[T]) Count(class Class) int {
	n := 0
	for _, c := range cs {
		if c.Class == class {
			n++
		}
	}
	return n
}

// ThreeWay classifies every id present in ancestor, local, or remote.
func ThreeWay[T ledger.Record](ancestor, local, remote map[string]T) Changeset[T] {
	ids := make(map[string]struct{}, len(ancestor)+len(local)+len(remote))
	for id := range ancestor {
		ids[id] = struct{}{}
	}
	for id := range local {
		ids[id] = struct{}{}
	}
	for id := range remote {
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	cs := make(Changeset[T], 0, len(sorted))
	for _, id := range sorted {
		cs = append(cs, classify(id, ancestor, local, remote))
	}
	return cs
}

func classify[T ledger.Record](id string, ancestor, local, remote map[string]T) Change[T] {
	ch := Change[T]{ID: id}

	a, hasA := ancestor[id]
	l, hasL := local[id]
	r, hasR := remote[id]
	if hasA {
		ch.Ancestor = &a
	}
	if hasL {
		ch.Local = &l
	}
	if hasR {
		ch.Remote = &r
	}

	switch {
	case !hasA:
		ch.Class = classifyAdded(hasL, hasR, l, r)
	case hasL && hasR:
		ch.Class = classifyEdited(a, l, r)
	case !hasL && !hasR:
		ch.Class = BothDeleted
	case !hasL:
		// Deleted locally; a remote edit outranks the deletion.
		if ledger.Equal(a, r) {
			ch.Class = LocalDeleted
		} else {
			ch.Class = DeleteEditConflict
		}
	default:
		// Deleted remotely; a local edit outranks the deletion.
		if ledger.Equal(a, l) {
			ch.Class = RemoteDeleted
		} else {
			ch.Class = DeleteEditConflict
		}
	}
	return ch
}

func classifyAdded[T ledger.Record](hasL, hasR bool, l, r T) Class {
	switch {
	case hasL && hasR && ledger.Equal(l, r):
		return BothAddedSame
	case hasL && hasR:
		return BothAddedConflict
	case hasL:
		return LocalAdded
	default:
		return RemoteAdded
	}
}

func classifyEdited[T ledger.Record](a, l, r T) Class {
	localSame := ledger.Equal(a, l)
	remoteSame := ledger.Equal(a, r)

	switch {
	case localSame && remoteSame:
		return Unchanged
	case remoteSame:
		return LocalOnlyChange
	case localSame:
		return RemoteOnlyChange
	case ledger.Equal(l, r):
		return BothChangedSame
	default:
		return Conflict
	}
}
