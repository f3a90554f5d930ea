// Package graph holds the processing graph: patches containing nodes,
// their ports and the connections between them.
//
// Two views of the graph exist. The control view (the Store index and each
// patch's node and connection lists) is read and written by the prepare
// worker and the post-processor under the Store lock. The audio view is a
// patch's compiled ProcessOrder, swapped by pointer on the audio thread.
// The audio thread never takes the Store lock.
package graph

import (
	"maps"
	"sync"
	"sync/atomic"
)

// ObjectKind discriminates graph objects
type ObjectKind uint8

const (
	ObjectPatch ObjectKind = iota
	ObjectNode
	ObjectPort
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectPatch:
		return "patch"
	case ObjectNode:
		return "node"
	case ObjectPort:
		return "port"
	default:
		return "unknown"
	}
}

// Object is any addressable graph object
type Object interface {
	Path() Path
	Handle() Handle
	Kind() ObjectKind
	Metadata() map[string]string
	// Retired reports whether the object or one of its ancestors was
	// unlinked from the audio graph.
	Retired() bool

	base() *object
}

// Block is a processing unit scheduled by its parent's ProcessOrder: a
// node, or a sub-patch processed as a whole.
type Block interface {
	Object
	Parent() *Patch
	Ports() []*Port
	Process(nframes uint32)
}

// object carries the fields shared by every graph object
type object struct {
	path   Path
	handle Handle

	metaMu sync.RWMutex
	meta   map[string]string
}

func (o *object) Path() Path     { return o.path }
func (o *object) Handle() Handle { return o.handle }
func (o *object) base() *object  { return o }

// Metadata returns a copy of the object's metadata
func (o *object) Metadata() map[string]string {
	o.metaMu.RLock()
	defer o.metaMu.RUnlock()
	return maps.Clone(o.meta)
}

func (o *object) setMetadata(key, value string) {
	o.metaMu.Lock()
	defer o.metaMu.Unlock()
	if o.meta == nil {
		o.meta = make(map[string]string)
	}
	if value == "" {
		delete(o.meta, key)
		return
	}
	o.meta[key] = value
}

// lifecycle tracks retirement and reclamation of audio-reachable objects
type lifecycle struct {
	retired   atomic.Bool
	reclaimed atomic.Bool
	gen       atomic.Uint32
}

// Retire marks the object unlinked from the audio graph
func (l *lifecycle) Retire() {
	l.retired.Store(true)
}

// Generation is bumped when the object is reclaimed
func (l *lifecycle) Generation() uint32 {
	return l.gen.Load()
}

// Reclaimed reports whether Reclaim already ran
func (l *lifecycle) Reclaimed() bool {
	return l.reclaimed.Load()
}

// beginReclaim returns false when the object was already reclaimed
func (l *lifecycle) beginReclaim() bool {
	if !l.reclaimed.CompareAndSwap(false, true) {
		return false
	}
	l.gen.Add(1)
	return true
}
