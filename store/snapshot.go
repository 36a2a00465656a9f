package store

import (
	"sort"

	"github.com/wudi/pdfrev/ir/raw"
)

// Snapshot records which object numbers changed since it was taken. The
// writer consumes it to emit an incremental update.
type Snapshot struct {
	save map[int]bool
	gone map[int]raw.ObjectRef
}

func newSnapshot() *Snapshot {
	return &Snapshot{save: make(map[int]bool), gone: make(map[int]raw.ObjectRef)}
}

func (s *Snapshot) onRegister(ref raw.ObjectRef) {
	delete(s.gone, ref.Num)
	s.save[ref.Num] = true
}

func (s *Snapshot) onAssign(ref raw.ObjectRef) { s.onRegister(ref) }

func (s *Snapshot) onDelete(ref raw.ObjectRef) {
	delete(s.save, ref.Num)
	s.gone[ref.Num] = ref
}

// MarkRefForSave includes ref in the next incremental write even if it did
// not change.
func (s *Snapshot) MarkRefForSave(ref raw.ObjectRef) {
	if _, gone := s.gone[ref.Num]; gone {
		return
	}
	s.save[ref.Num] = true
}

func (s *Snapshot) MarkRefsForSave(refs []raw.ObjectRef) {
	for _, r := range refs {
		s.MarkRefForSave(r)
	}
}

// MarkDeletedRef records ref as deleted without touching a Context.
func (s *Snapshot) MarkDeletedRef(ref raw.ObjectRef) { s.onDelete(ref) }

// ShouldSave reports whether num is written by an update from s.
func (s *Snapshot) ShouldSave(num int) bool { return s.save[num] }

// SavedNumbers returns the numbers to write, ascending.
func (s *Snapshot) SavedNumbers() []int {
	out := make([]int, 0, len(s.save))
	for n := range s.save {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// DeletedRefs returns the deleted references as they were before deletion,
// ordered by object number.
func (s *Snapshot) DeletedRefs() []raw.ObjectRef {
	out := make([]raw.ObjectRef, 0, len(s.gone))
	for _, r := range s.gone {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Empty reports whether s records no change.
func (s *Snapshot) Empty() bool { return len(s.save) == 0 && len(s.gone) == 0 }

// TakeSnapshot starts a new active snapshot and returns it. Every later
// register, assign and delete is recorded in it.
func (c *Context) TakeSnapshot() *Snapshot {
	c.active = newSnapshot()
	return c.active
}

// ActiveSnapshot returns the snapshot currently recording changes.
func (c *Context) ActiveSnapshot() *Snapshot { return c.active }

// MarkRefForSave marks ref in the active snapshot.
func (c *Context) MarkRefForSave(ref raw.ObjectRef) { c.active.MarkRefForSave(ref) }

// MarkObjForSave marks the slot holding o in the active snapshot. It reports
// false when o is not bound to any slot.
func (c *Context) MarkObjForSave(o raw.Object) bool {
	ref, ok := c.FindRef(o)
	if ok {
		c.active.MarkRefForSave(ref)
	}
	return ok
}

// MarkDeletedRef records ref as deleted in the active snapshot and frees its
// slot.
func (c *Context) MarkDeletedRef(ref raw.ObjectRef) {
	if !c.Delete(ref) {
		c.active.onDelete(ref)
	}
}
