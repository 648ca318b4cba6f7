package memory

import (
	"errors"
	"testing"
	"time"
)

func TestArchiveSearch(t *testing.T) {
	a, err := NewArchive("", nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	first, _ := a.Insert("Go release notes", []string{"golang"})
	_, _ = a.Insert("Grocery list: milk", nil)
	third, _ := a.Insert("Go generics talk notes", nil)

	hits := a.Search("go notes", 0)
	if len(hits) != 2 || hits[0].ID != third.ID || hits[1].ID != first.ID {
		t.Fatalf("Search = %+v", hits)
	}
	if hits := a.Search("golang", 0); len(hits) != 1 || hits[0].ID != first.ID {
		t.Fatalf("tag search = %+v", hits)
	}
	if hits := a.Search("", 2); len(hits) != 2 || hits[0].ID != third.ID {
		t.Fatalf("empty query = %+v", hits)
	}

	if _, err := a.Insert("   ", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if err := a.Delete(first.ID); err != nil {
		t.Fatal(err)
	}
	if err := a.Delete(first.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("Delete err = %v", err)
	}
}
