package firestore

import (
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

func TestSortAddressesKeepsUntimestampedEntries(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	addrs := []domain.Address{
		{ID: "legacy-a"},
		{ID: "created", CreatedAt: base},
		{ID: "legacy-default", IsDefault: true},
		{ID: "updated", CreatedAt: base.Add(-48 * time.Hour), UpdatedAt: base.Add(time.Hour)},
		{ID: "legacy-b"},
	}

	sortAddresses(addrs)

	want := []string{"legacy-default", "updated", "created", "legacy-a", "legacy-b"}
	if len(addrs) != len(want) {
		t.Fatalf("expected %d addresses, got %d", len(want), len(addrs))
	}
	for i, id := range want {
		if addrs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s (order %v)", i, id, addrs[i].ID, ids(addrs))
		}
	}
}

func ids(addrs []domain.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.ID)
	}
	return out
}
