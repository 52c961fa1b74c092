// Package memory is an in-process document store. It has no native
// filter-and-set, so every write is a compare-and-swap on a per-row revision:
// read a copy, compute the new document, swap only if the revision is unchanged.
package memory

import (
	"errors"
	"slices"
	"sync"
)

var (
	errMissing = errors.New("row missing")
	errExists  = errors.New("row exists")
)

type row[T any] struct {
	doc T
	rev int64
}

type entry[T any] struct {
	id  string
	doc T
	rev int64
}

type table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]*row[T]
	clone func(T) T
}

func newTable[T any](clone func(T) T) *table[T] {
	return &table[T]{rows: make(map[string]*row[T]), clone: clone}
}

func (t *table[T]) get(id string) (T, int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, 0, false
	}
	return t.clone(r.doc), r.rev, true
}

// insert adds doc under id unless id exists or conflicts reports a clash with
// an existing row.
func (t *table[T]) insert(id string, doc T, conflicts func(existing T) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; ok {
		return errExists
	}
	if conflicts != nil {
		for _, r := range t.rows {
			if conflicts(r.doc) {
				return errExists
			}
		}
	}
	t.rows[id] = &row[T]{doc: t.clone(doc), rev: 1}
	return nil
}

func (t *table[T]) swap(id string, rev int64, doc T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok || r.rev != rev {
		return false
	}
	r.doc = t.clone(doc)
	r.rev++
	return true
}

// update applies fn to a copy of the row and stores the result, retrying when
// a concurrent writer got in first.
func (t *table[T]) update(id string, fn func(T) (T, error)) (T, error) {
	var zero T
	for {
		cur, rev, ok := t.get(id)
		if !ok {
			return zero, errMissing
		}
		next, err := fn(cur)
		if err != nil {
			return zero, err
		}
		if t.swap(id, rev, next) {
			return t.clone(next), nil
		}
	}
}

func (t *table[T]) scan(match func(T) bool) []entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []entry[T]
	for id, r := range t.rows {
		if match == nil || match(r.doc) {
			out = append(out, entry[T]{id: id, doc: t.clone(r.doc), rev: r.rev})
		}
	}
	return out
}

// first returns the lowest matching row under cmp.
func (t *table[T]) first(match func(T) bool, cmp func(a, b T) int) (T, bool) {
	rows := t.scan(match)
	if len(rows) == 0 {
		var zero T
		return zero, false
	}
	slices.SortFunc(rows, func(a, b entry[T]) int { return cmp(a.doc, b.doc) })
	return rows[0].doc, true
}

// claim moves the lowest eligible row through mutate. Losing the swap to a
// concurrent writer rescans, so two claimants never both win the same row.
func (t *table[T]) claim(eligible func(T) bool, cmp func(a, b T) int, mutate func(T) T) (T, bool) {
	for {
		rows := t.scan(eligible)
		if len(rows) == 0 {
			var zero T
			return zero, false
		}
		slices.SortFunc(rows, func(a, b entry[T]) int { return cmp(a.doc, b.doc) })
		next := mutate(rows[0].doc)
		if t.swap(rows[0].id, rows[0].rev, next) {
			return t.clone(next), true
		}
	}
}
