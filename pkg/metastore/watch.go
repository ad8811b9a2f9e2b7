package metastore

import (
	"path"
	"sync"

	"github.com/cuemby/tablestore/pkg/storage"
)

// watchRegistry tracks registered ChildrenWatcher/ValueWatcher callbacks
// and fires them from the FSM's Apply path. A callback firing does not
// remove itself, and there is no unregister: every registration stays
// armed for the registry's lifetime.
type watchRegistry struct {
	mu       sync.Mutex
	children map[string][]ChildrenWatcher
	values   map[string][]ValueWatcher
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		children: make(map[string][]ChildrenWatcher),
		values:   make(map[string][]ValueWatcher),
	}
}

func (w *watchRegistry) addChildren(p string, cb ChildrenWatcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.children[p] = append(w.children[p], cb)
}

func (w *watchRegistry) addValue(p string, cb ValueWatcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[p] = append(w.values[p], cb)
}

// notifyPath is called after a Put/Delete/Increment at changedPath. It
// fires value watchers on changedPath itself, and children watchers on
// changedPath's parent (since a Put/Delete changes the parent's
// children set).
func (w *watchRegistry) notifyPath(changedPath string, store storage.Store) {
	w.mu.Lock()
	valueCbs := append([]ValueWatcher(nil), w.values[changedPath]...)
	parent := path.Dir(changedPath)
	childCbs := append([]ChildrenWatcher(nil), w.children[parent]...)
	w.mu.Unlock()

	for _, cb := range valueCbs {
		go cb()
	}

	if len(childCbs) == 0 {
		return
	}
	children, err := store.Children(parent)
	if err != nil {
		return
	}
	for _, cb := range childCbs {
		go cb(children)
	}
}
