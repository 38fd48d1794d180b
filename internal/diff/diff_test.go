package diff

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/famledger/famledger/internal/ledger"
)

func member(id, name string, updated time.Time) ledger.Member {
	return ledger.Member{
		ID:        id,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: updated,
		Name:      name,
	}
}

func asMap(members ...ledger.Member) map[string]ledger.Member {
	m := make(map[string]ledger.Member, len(members))
	for _, mem := range members {
		m[mem.ID] = mem
	}
	return m
}

func classOf(t *testing.T, cs Changeset[ledger.Member], id string) Class {
	t.Helper()
	for _, c := range cs {
		if c.ID == id {
			return c.Class
		}
	}
	t.Fatalf("id %s not classified", id)
	return Unchanged
}

func TestThreeWayClassifications(t *testing.T) {
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)

	ancestor := asMap(
		member("unchanged", "A", base),
		member("local-edit", "B", base),
		member("remote-edit", "C", base),
		member("both-same", "D", base),
		member("conflict", "E", base),
		member("local-del", "F", base),
		member("remote-del", "G", base),
		member("both-del", "H", base),
		member("del-edit", "I", base),
	)

	local := asMap(
		member("unchanged", "A", base),
		member("local-edit", "B2", later),
		member("remote-edit", "C", base),
		member("both-same", "D2", later),
		member("conflict", "E-local", later),
		member("remote-del", "G", base),
		member("del-edit", "I-edited", later),
		member("local-add", "new-local", later),
		member("both-add", "same", later),
	)

	remote := asMap(
		member("unchanged", "A", base),
		member("local-edit", "B", base),
		member("remote-edit", "C2", later),
		member("both-same", "D2", later),
		member("conflict", "E-remote", later),
		member("local-del", "F", base),
		member("remote-add", "new-remote", later),
		member("both-add", "same", later),
		member("collision", "remote-version", later),
	)
	local["collision"] = member("collision", "local-version", later)

	cs := ThreeWay(ancestor, local, remote)

	want := map[string]Class{
		"unchanged":   Unchanged,
		"local-edit":  LocalOnlyChange,
		"remote-edit": RemoteOnlyChange,
		"both-same":   BothChangedSame,
		"conflict":    Conflict,
		"local-del":   LocalDeleted,
		"remote-del":  RemoteDeleted,
		"both-del":    BothDeleted,
		"del-edit":    DeleteEditConflict,
		"local-add":   LocalAdded,
		"remote-add":  RemoteAdded,
		"both-add":    BothAddedSame,
		"collision":   BothAddedConflict,
	}
	got := make(map[string]Class, len(cs))
	for _, c := range cs {
		got[c.ID] = c.Class
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("classification mismatch (-want +got):\n%s", diff)
	}
	if len(cs) != len(want) {
		t.Errorf("expected %d changes, got %d", len(want), len(cs))
	}
}

func TestChangesetOrderedByID(t *testing.T) {
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	local := asMap(member("c", "C", base), member("a", "A", base), member("b", "B", base))

	cs := ThreeWay(nil, local, nil)
	for i := 1; i < len(cs); i++ {
		if cs[i-1].ID >= cs[i].ID {
			t.Fatalf("changeset not sorted: %s before %s", cs[i-1].ID, cs[i].ID)
		}
	}
}

func TestDeleteEditConflictSides(t *testing.T) {
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)

	ancestor := asMap(member("x", "X", base))
	remote := asMap(member("x", "X-edited", later))

	cs := ThreeWay(ancestor, map[string]ledger.Member{}, remote)
	if got := classOf(t, cs, "x"); got != DeleteEditConflict {
		t.Fatalf("expected delete-edit-conflict, got %s", got)
	}
	if cs[0].Local != nil {
		t.Error("expected nil local side")
	}
	if cs[0].Remote == nil || cs[0].Remote.Name != "X-edited" {
		t.Error("expected remote edit to be carried")
	}
}

func TestTimestampDriftIsNotAChange(t *testing.T) {
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	anc := member("x", "X", base)
	loc := member("x", "X", base.Add(500*time.Millisecond)) // same after normalization
	rem := member("x", "X", base)

	cs := ThreeWay(asMap(anc), asMap(loc), asMap(rem))
	if got := classOf(t, cs, "x"); got != Unchanged {
		t.Errorf("sub-second drift classified as %s, want unchanged", got)
	}
}
