// Package resolve merges three-way change-sets into a single resolved
// state.
//
// Resolution is fully automatic: every classification has a policy and
// nothing is ever surfaced as a blocking prompt. The policies, in order
// of the classifications they handle:
//
//   - clean changes (one side edited, or both edited identically) take
//     the changed value;
//   - additions are kept; if both sides added the same id with different
//     content, the later last-modified record keeps the id and the loser
//     is re-inserted under a fresh id so nothing is silently dropped;
//   - clean deletions apply; a deletion racing an edit loses to the
//     edit, because the deleting device cannot have seen the edit;
//   - genuine edit conflicts merge field by field, preferring the field
//     value owned by the later-modified record, with a deterministic
//     lexical tie-break so every device converges on the same result.
//
// Every conflict resolution is written to the audit logger with both
// candidates and the reason for the choice.
package resolve

import (
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/famledger/famledger/internal/diff"
	"github.com/famledger/famledger/internal/ledger"
)

// Action says what happens to an id in the merged state.
type Action int

const (
	// ActionKeep keeps the record (possibly with merged content).
	ActionKeep Action = iota
	// ActionDelete removes the record from the merged state.
	ActionDelete
)

// Resolution records the decision for a single id.
type Resolution[T ledger.Record] struct {
	ID     string
	Class  diff.Class
	Action Action

	// Record is the surviving content when Action is ActionKeep.
	Record *T

	// Reinserted carries the losing side of an id collision, re-keyed
	// under a freshly generated id.
	Reinserted *T
}

// Result is the fully resolved state for one entity table or month
// bucket.
type Result[T ledger.Record] struct {
	Resolutions []Resolution[T]

	// ResolvedConflicts counts conflict and delete-edit-conflict
	// classifications that required a policy decision.
	ResolvedConflicts int
}

// Records returns the merged record set, including collision re-inserts.
func (r Result[T]) Records() []T {
	var out []T
	for _, res := range r.Resolutions {
		if res.Action == ActionKeep && res.Record != nil {
			out = append(out, *res.Record)
		}
		if res.Reinserted != nil {
			out = append(out, *res.Reinserted)
		}
	}
	return out
}

// Resolver merges change-sets for one entity type. The type-specific
// pieces are the column schema and how to rebuild and re-key a record.
type Resolver[T ledger.Record] struct {
	kind        ledger.Kind
	columns     []string
	fromColumns func([]string) (T, error)
	withID      func(T, string) T
	audit       *log.Logger
}

// NewResolver creates a resolver for one entity type.
//
// If audit is nil, a default logger writing to stderr is used. The audit
// log receives one line per conflicting field and per record-level
// policy decision.
func NewResolver[T ledger.Record](
	kind ledger.Kind,
	columns []string,
	fromColumns func([]string) (T, error),
	withID func(T, string) T,
	audit *log.Logger,
) *Resolver[T] {
	if audit == nil {
		audit = log.New(os.Stderr, "[resolve] ", log.LstdFlags)
	}
	return &Resolver[T]{
		kind:        kind,
		columns:     columns,
		fromColumns: fromColumns,
		withID:      withID,
		audit:       audit,
	}
}

// Transactions returns a resolver for transaction records.
func Transactions(audit *log.Logger) *Resolver[ledger.Transaction] {
	return NewResolver(ledger.KindTransaction, ledger.TransactionColumns(),
		ledger.TransactionFromColumns,
		func(t ledger.Transaction, id string) ledger.Transaction { t.ID = id; return t },
		audit)
}

// Members returns a resolver for member records.
func Members(audit *log.Logger) *Resolver[ledger.Member] {
	return NewResolver(ledger.KindMember, ledger.MemberColumns(),
		ledger.MemberFromColumns,
		func(m ledger.Member, id string) ledger.Member { m.ID = id; return m },
		audit)
}

// Categories returns a resolver for category records.
func Categories(audit *log.Logger) *Resolver[ledger.Category] {
	return NewResolver(ledger.KindCategory, ledger.CategoryColumns(),
		ledger.CategoryFromColumns,
		func(c ledger.Category, id string) ledger.Category { c.ID = id; return c },
		audit)
}

// Resolve applies the merge policies to a change-set.
func (r *Resolver[T]) Resolve(cs diff.Changeset[T]) (Result[T], error) {
	var result Result[T]
	result.Resolutions = make([]Resolution[T], 0, len(cs))

	for _, ch := range cs {
		res, err := r.resolveOne(ch)
		if err != nil {
			return Result[T]{}, fmt.Errorf("failed to resolve %s %s: %w", r.kind, ch.ID, err)
		}
		if ch.Class == diff.Conflict || ch.Class == diff.DeleteEditConflict || ch.Class == diff.BothAddedConflict {
			result.ResolvedConflicts++
		}
		result.Resolutions = append(result.Resolutions, res)
	}
	return result, nil
}

func (r *Resolver[T]) resolveOne(ch diff.Change[T]) (Resolution[T], error) {
	res := Resolution[T]{ID: ch.ID, Class: ch.Class}

	switch ch.Class {
	case diff.Unchanged, diff.LocalOnlyChange, diff.BothChangedSame,
		diff.LocalAdded, diff.BothAddedSame:
		res.Action = ActionKeep
		res.Record = ch.Local

	case diff.RemoteOnlyChange, diff.RemoteAdded:
		res.Action = ActionKeep
		res.Record = ch.Remote

	case diff.LocalDeleted, diff.RemoteDeleted, diff.BothDeleted:
		res.Action = ActionDelete

	case diff.DeleteEditConflict:
		// The edit wins: the deleting device could not have seen the
		// concurrent edit, so deletion is the weaker signal.
		res.Action = ActionKeep
		if ch.Local != nil {
			res.Record = ch.Local
			r.audit.Printf("%s %s delete-edit-conflict: kept local edit over remote delete", r.kind, ch.ID)
		} else {
			res.Record = ch.Remote
			r.audit.Printf("%s %s delete-edit-conflict: kept remote edit over local delete", r.kind, ch.ID)
		}

	case diff.BothAddedConflict:
		winner, loser := r.pickCollision(*ch.Local, *ch.Remote)
		fresh := r.withID(loser, uuid.NewString())
		res.Action = ActionKeep
		res.Record = &winner
		res.Reinserted = &fresh
		r.audit.Printf("%s %s id-collision: kept later record, re-inserted loser as %s",
			r.kind, ch.ID, fresh.RecordID())

	case diff.Conflict:
		merged, err := r.mergeFields(ch)
		if err != nil {
			return Resolution[T]{}, err
		}
		res.Action = ActionKeep
		res.Record = &merged

	default:
		return Resolution[T]{}, fmt.Errorf("unhandled classification %s", ch.Class)
	}

	return res, nil
}

// pickCollision decides which side keeps a collided id. The later
// last-modified record wins; an exact tie falls back to comparing the
// canonical column vectors so every device picks the same winner.
func (r *Resolver[T]) pickCollision(local, remote T) (winner, loser T) {
	lm, rm := ledger.NormalizeTime(local.LastModified()), ledger.NormalizeTime(remote.LastModified())
	switch {
	case lm.After(rm):
		return local, remote
	case rm.After(lm):
		return remote, local
	case slices.Compare(local.Columns(), remote.Columns()) <= 0:
		return local, remote
	default:
		return remote, local
	}
}

// mergeFields merges a both-sides-edited record column by column over
// the canonical projection.
func (r *Resolver[T]) mergeFields(ch diff.Change[T]) (T, error) {
	var zero T

	anc := (*ch.Ancestor).Columns()
	loc := (*ch.Local).Columns()
	rem := (*ch.Remote).Columns()

	lm := ledger.NormalizeTime((*ch.Local).LastModified())
	rm := ledger.NormalizeTime((*ch.Remote).LastModified())
	localNewer := lm.After(rm)
	remoteNewer := rm.After(lm)

	merged := make([]string, len(r.columns))
	for i := range r.columns {
		lv, rv, av := loc[i], rem[i], anc[i]

		switch {
		case lv == rv:
			merged[i] = lv
		case lv == av:
			// Only the remote side touched this field.
			merged[i] = rv
		case rv == av:
			// Only the local side touched this field.
			merged[i] = lv
		default:
			// Both sides changed the same field to different values.
			merged[i] = r.pickContested(ch.ID, r.columns[i], lv, rv, localNewer, remoteNewer)
		}
	}

	// The merged record is at least as new as both inputs.
	updatedAt := lm
	if rm.After(lm) {
		updatedAt = rm
	}
	if idx := slices.Index(r.columns, "updatedAt"); idx >= 0 {
		merged[idx] = ledger.FormatTime(updatedAt)
	}

	rec, err := r.fromColumns(merged)
	if err != nil {
		return zero, fmt.Errorf("merged record does not decode: %w", err)
	}
	return rec, nil
}

// pickContested chooses between two candidate values for one field.
// Later last-modified wins; a timestamp tie falls back to the
// lexically smaller value, which is arbitrary but identical on every
// device and on every re-run.
func (r *Resolver[T]) pickContested(id, field, local, remote string, localNewer, remoteNewer bool) string {
	var chosen, reason string
	switch {
	case localNewer:
		chosen, reason = local, "local modified later"
	case remoteNewer:
		chosen, reason = remote, "remote modified later"
	case local < remote:
		chosen, reason = local, "timestamp tie, lexical order"
	default:
		chosen, reason = remote, "timestamp tie, lexical order"
	}
	r.audit.Printf("%s %s conflict on %s: local=%q remote=%q chose=%q (%s)",
		r.kind, id, field, local, remote, chosen, reason)
	return chosen
}
