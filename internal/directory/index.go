package directory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CollisionError reports two facilities whose names normalize to the same
// key. The index keeps the first-seen mapping, but callers must hear about
// the fault — it means the directory data needs fixing.
type CollisionError struct {
	Key       string
	KeptID    uuid.UUID
	DroppedID uuid.UUID
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("directory collision on %q: kept facility %s, dropped facility %s",
		e.Key, e.KeptID, e.DroppedID)
}

// Index maps normalized facility names (display names and aliases alike) to
// facility IDs. Build one per sweep and pass it around explicitly.
type Index struct {
	byKey map[string]uuid.UUID
	names map[uuid.UUID]string
}

// Normalize folds a facility name to its lookup key: lowercase, trimmed,
// internal whitespace collapsed to single spaces.
func Normalize(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(lowered), " ")
}

// BuildIndex indexes every facility under its display name and all aliases.
// Collisions don't stop the build; they come back alongside the index.
func BuildIndex(facilities []Facility) (*Index, []*CollisionError) {
	idx := &Index{
		byKey: make(map[string]uuid.UUID, len(facilities)),
		names: make(map[uuid.UUID]string, len(facilities)),
	}
	var collisions []*CollisionError

	add := func(name string, id uuid.UUID) {
		key := Normalize(name)
		if key == "" {
			return
		}
		if existing, ok := idx.byKey[key]; ok {
			if existing != id {
				collisions = append(collisions, &CollisionError{
					Key:       key,
					KeptID:    existing,
					DroppedID: id,
				})
			}
			return
		}
		idx.byKey[key] = id
	}

	for _, f := range facilities {
		idx.names[f.ID] = f.DisplayName
		add(f.DisplayName, f.ID)
		for _, alias := range f.Aliases {
			add(alias, f.ID)
		}
	}

	return idx, collisions
}

// Len reports how many distinct keys the index holds.
func (idx *Index) Len() int {
	return len(idx.byKey)
}

// DisplayName returns the current display name for an indexed facility.
func (idx *Index) DisplayName(id uuid.UUID) string {
	return idx.names[id]
}

func (idx *Index) lookup(key string) (uuid.UUID, bool) {
	id, ok := idx.byKey[key]
	return id, ok
}
