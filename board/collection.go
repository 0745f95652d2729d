package board

// Entity is anything that can live in an ordered, uniquely keyed collection.
type Entity interface {
	EntityID() string
}

// IndexOf returns the index of the element with the given id, or -1.
func IndexOf[T Entity](items []T, id string) int {
	for i := range items {
		if items[i].EntityID() == id {
			return i
		}
	}
	return -1
}

func clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

// InsertAt returns a new collection with item inserted at index, clamped to
// [0, len(items)].
func InsertAt[T Entity](items []T, item T, index int) []T {
	index = clamp(index, len(items))
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:index]...)
	out = append(out, item)
	return append(out, items[index:]...)
}

// RemoveByID returns a collection without the element with the given id.
// Removing an absent id is a no-op: remote deletes may race local ones.
func RemoveByID[T Entity](items []T, id string) []T {
	i := IndexOf(items, id)
	if i < 0 {
		return items
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

// MoveByID removes the element and reinserts it at dest, where dest is an
// index into the collection after removal. The moved element is returned so
// callers can carry it into another collection.
func MoveByID[T Entity](items []T, id string, dest int) ([]T, T, bool) {
	var zero T
	i := IndexOf(items, id)
	if i < 0 {
		return items, zero, false
	}
	moved := items[i]
	return InsertAt(RemoveByID(items, id), moved, dest), moved, true
}

// UpdateByID applies patch to the element with the given id. patch receives a
// copy and must not write into slices it shares with the original.
func UpdateByID[T Entity](items []T, id string, patch func(T) T) []T {
	i := IndexOf(items, id)
	if i < 0 {
		return items
	}
	out := make([]T, len(items))
	copy(out, items)
	out[i] = patch(out[i])
	return out
}
