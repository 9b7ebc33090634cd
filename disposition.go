package layfs

import (
	"os"
	"sync"
)

// dispositionTable counts live contexts per overlay physical path so that a
// pending delete is applied only when the last of them is released. It is
// not a lock table: nothing ever waits on it.
type dispositionTable struct {
	mu   sync.Mutex
	refs map[string]*disposition
}

type disposition struct {
	refs          int
	deletePending bool
	isDir         bool
}

func newDispositionTable() *dispositionTable {
	return &dispositionTable{refs: make(map[string]*disposition)}
}

func (t *dispositionTable) acquire(physical string, isDir bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.refs[physical]
	if !ok {
		d = &disposition{isDir: isDir}
		t.refs[physical] = d
	}
	d.refs++
}

// markDelete flags physical for removal at last release
func (t *dispositionTable) markDelete(physical string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d, ok := t.refs[physical]; ok {
		d.deletePending = true
	}
}

func (t *dispositionTable) pending(physical string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.refs[physical]
	return ok && d.deletePending
}

// release drops one reference. When it was the last one and a delete is
// pending, the entry is removed while the table lock is held so that a
// concurrent acquire cannot observe a half-deleted path.
func (t *dispositionTable) release(physical string, remove func(string, bool) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.refs[physical]
	if !ok {
		return nil
	}
	d.refs--
	if d.refs > 0 {
		return nil
	}
	delete(t.refs, physical)

	if !d.deletePending {
		return nil
	}
	if err := remove(physical, d.isDir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
