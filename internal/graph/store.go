package graph

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// Swap is a compiled order waiting to be installed on the audio thread
type Swap struct {
	Patch *Patch
	Order *ProcessOrder
}

// Commit installs the order and returns the replaced one. Called on the
// audio thread.
func (s Swap) Commit() *ProcessOrder {
	if s.Patch == nil {
		return nil
	}
	return s.Patch.Swap(s.Order)
}

// Store is the control-side index of every graph object by path.
//
// All methods take the store lock and may allocate; they are called from
// the prepare worker, the post-processor and transports, never from the
// audio thread. Structural changes never touch what the audio thread
// reads: they compile new process orders returned as Swaps.
type Store struct {
	mu      sync.RWMutex
	objects *Arena[Object]
	index   map[Path]Handle
	root    *Patch
	cfg     BufferConfig
	rootIO  []plugins.PortDescriptor
}

// NewStore returns an empty store. rootPorts are created on the root
// patch when it is added.
func NewStore(cfg BufferConfig, rootPorts []plugins.PortDescriptor) *Store {
	return &Store{
		objects: NewArena[Object](64),
		index:   make(map[Path]Handle),
		cfg:     cfg,
		rootIO:  slices.Clone(rootPorts),
	}
}

// Buffers returns the buffer sizing used for new ports
func (s *Store) Buffers() BufferConfig { return s.cfg }

// Root returns the root patch, nil before it is created
func (s *Store) Root() *Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Len returns the number of indexed objects
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects.Len()
}

// Find resolves path
func (s *Store) Find(path Path) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(path)
}

// Resolve resolves a handle. Stale handles do not resolve.
func (s *Store) Resolve(h Handle) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects.Get(h)
}

func (s *Store) find(path Path) (Object, bool) {
	h, ok := s.index[path]
	if !ok {
		return nil, false
	}
	return s.objects.Get(h)
}

// FindPatch resolves path to a patch
func (s *Store) FindPatch(path Path) (*Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPatch(path)
}

func (s *Store) findPatch(path Path) (*Patch, error) {
	obj, ok := s.find(path)
	if !ok {
		return nil, errNotFound(path)
	}
	p, ok := obj.(*Patch)
	if !ok {
		return nil, errWrongKind(path, ObjectPatch)
	}
	return p, nil
}

// FindNode resolves path to a node
func (s *Store) FindNode(path Path) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.find(path)
	if !ok {
		return nil, errNotFound(path)
	}
	n, ok := obj.(*Node)
	if !ok {
		return nil, errWrongKind(path, ObjectNode)
	}
	return n, nil
}

// FindPort resolves path to a port
func (s *Store) FindPort(path Path) (*Port, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPort(path)
}

func (s *Store) findPort(path Path) (*Port, error) {
	obj, ok := s.find(path)
	if !ok {
		return nil, errNotFound(path)
	}
	p, ok := obj.(*Port)
	if !ok {
		return nil, errWrongKind(path, ObjectPort)
	}
	return p, nil
}

func (s *Store) add(obj Object) error {
	if _, exists := s.index[obj.Path()]; exists {
		return errExists(obj.Path())
	}
	h := s.objects.Insert(obj)
	obj.base().handle = h
	s.index[obj.Path()] = h
	return nil
}

// remove drops path and every object below it from the index
func (s *Store) remove(path Path) {
	for p, h := range s.index {
		if p == path || p.IsDescendantOf(path) {
			s.objects.Remove(h)
			delete(s.index, p)
		}
	}
}

// unindex drops exactly objs from the index, leaving anything else at
// their paths alone
func (s *Store) unindex(objs ...Object) {
	for _, obj := range objs {
		h := obj.base().handle
		if s.index[obj.Path()] == h {
			delete(s.index, obj.Path())
		}
		s.objects.Remove(h)
	}
}

// checkNew validates path as a free child of an existing patch
func (s *Store) checkNew(path Path) (*Patch, error) {
	if !IsValidPath(string(path)) || path.IsRoot() {
		return nil, errInvalidPath(string(path))
	}
	parent, err := s.findPatch(path.Parent())
	if err != nil {
		return nil, err
	}
	if _, exists := s.index[path]; exists {
		return nil, errExists(path)
	}
	return parent, nil
}

// ChildNameOffset returns 0 when symbol is free below parent, otherwise
// the smallest n >= 2 such that symbol_n is free.
func (s *Store) ChildNameOffset(parent Path, symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childNameOffset(parent, symbol)
}

func (s *Store) childNameOffset(parent Path, symbol string) int {
	if _, taken := s.index[parent.Child(symbol)]; !taken {
		return 0
	}
	for n := 2; ; n++ {
		if _, taken := s.index[parent.Child(symbol+"_"+strconv.Itoa(n))]; !taken {
			return n
		}
	}
}

// Walk visits path and its descendants in path order until fn returns false
func (s *Store) Walk(path Path, fn func(Object) bool) {
	s.mu.RLock()
	var objs []Object
	for p, h := range s.index {
		if p == path || p.IsDescendantOf(path) {
			if obj, ok := s.objects.Get(h); ok {
				objs = append(objs, obj)
			}
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(objs, func(a, b Object) int { return strings.Compare(string(a.Path()), string(b.Path())) })
	for _, obj := range objs {
		if !fn(obj) {
			return
		}
	}
}

// CreatePatch adds a patch. Creating "/" creates the root patch with the
// configured root ports; there is at most one root.
func (s *Store) CreatePatch(path Path, polyphony int) (*Patch, Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path.IsRoot() {
		if s.root != nil {
			return nil, Swap{}, errExists(path)
		}
		root := NewPatch(nil, Root, polyphony, s.cfg)
		for _, pd := range s.rootIO {
			if _, err := root.addPort(pd.Symbol, pd.Direction, pd.Type, pd.Default); err != nil {
				return nil, Swap{}, err
			}
		}
		order, err := Compile(root)
		if err != nil {
			return nil, Swap{}, err
		}
		root.order.Store(order)
		if err := s.add(root); err != nil {
			return nil, Swap{}, err
		}
		for _, port := range root.ports {
			if err := s.add(port); err != nil {
				return nil, Swap{}, err
			}
		}
		s.root = root
		return root, Swap{}, nil
	}

	parent, err := s.checkNew(path)
	if err != nil {
		return nil, Swap{}, err
	}
	patch := NewPatch(parent, path, polyphony, s.cfg)
	parent.addBlock(patch)
	order, err := Compile(parent)
	if err != nil {
		parent.removeBlock(patch)
		return nil, Swap{}, err
	}
	if err := s.add(patch); err != nil {
		parent.removeBlock(patch)
		return nil, Swap{}, err
	}
	return patch, Swap{Patch: parent, Order: order}, nil
}

// CreatePort adds a port to the patch that is path's parent. The patch
// and, for a sub-patch, its parent are recompiled.
func (s *Store) CreatePort(path Path, dir plugins.Direction, typ evbuf.Kind, def float32) (*Port, []Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch, err := s.checkNew(path)
	if err != nil {
		return nil, nil, err
	}
	port, err := patch.addPort(path.Base(), dir, typ, def)
	if err != nil {
		return nil, nil, err
	}

	rollback := func() { patch.ports = patch.ports[:len(patch.ports)-1] }
	swaps := make([]Swap, 0, 2)
	order, err := Compile(patch)
	if err != nil {
		rollback()
		return nil, nil, err
	}
	swaps = append(swaps, Swap{Patch: patch, Order: order})
	if patch.parent != nil {
		parentOrder, err := Compile(patch.parent)
		if err != nil {
			rollback()
			return nil, nil, err
		}
		swaps = append(swaps, Swap{Patch: patch.parent, Order: parentOrder})
	}
	if err := s.add(port); err != nil {
		rollback()
		return nil, nil, err
	}
	return port, swaps, nil
}

// CreateNode adds an instantiated plugin at path. The store owns inst from
// here on: on failure nothing stays indexed or attached and inst is
// cleaned up.
func (s *Store) CreateNode(path Path, desc *plugins.Descriptor, inst plugins.Instance, polyphony int) (*Node, Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.checkNew(path)
	if err != nil {
		inst.Cleanup()
		return nil, Swap{}, err
	}
	node, err := NewNode(parent, path.Base(), desc, inst, polyphony)
	if err != nil {
		inst.Cleanup()
		return nil, Swap{}, err
	}

	parent.addBlock(node)
	added := make([]Object, 0, len(node.ports)+1)
	fail := func(err error) (*Node, Swap, error) {
		parent.removeBlock(node)
		s.unindex(added...)
		node.Reclaim()
		return nil, Swap{}, err
	}
	order, err := Compile(parent)
	if err != nil {
		return fail(err)
	}
	if err := s.add(node); err != nil {
		return fail(err)
	}
	added = append(added, node)
	for _, port := range node.ports {
		if err := s.add(port); err != nil {
			return fail(err)
		}
		added = append(added, port)
	}
	return node, Swap{Patch: parent, Order: order}, nil
}

// Connect links src to dst. The connection lives in the patch enclosing
// both ends; duplicates and cycles are rejected.
func (s *Store) Connect(srcPath, dstPath Path) (*Connection, Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.findPort(srcPath)
	if err != nil {
		return nil, Swap{}, err
	}
	dst, err := s.findPort(dstPath)
	if err != nil {
		return nil, Swap{}, err
	}
	patch, err := connectionPatch(src, dst)
	if err != nil {
		return nil, Swap{}, err
	}
	for _, c := range patch.connections {
		if c.src == src && c.dst == dst {
			return nil, Swap{}, errConnection(srcPath, dstPath, ErrExists)
		}
	}

	c := &Connection{src: src, dst: dst}
	patch.connections = append(patch.connections, c)
	order, err := Compile(patch)
	if err != nil {
		patch.connections = patch.connections[:len(patch.connections)-1]
		return nil, Swap{}, errConnection(srcPath, dstPath, ErrCycle)
	}
	return c, Swap{Patch: patch, Order: order}, nil
}

// Disconnect removes the connection src -> dst
func (s *Store) Disconnect(srcPath, dstPath Path) (Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.findPort(srcPath)
	if err != nil {
		return Swap{}, err
	}
	dst, err := s.findPort(dstPath)
	if err != nil {
		return Swap{}, err
	}
	patch, err := connectionPatch(src, dst)
	if err != nil {
		return Swap{}, err
	}
	i := slices.IndexFunc(patch.connections, func(c *Connection) bool { return c.src == src && c.dst == dst })
	if i < 0 {
		return Swap{}, errConnection(srcPath, dstPath, ErrNotFound)
	}
	removed := patch.connections[i]
	patch.connections = slices.Delete(patch.connections, i, i+1)
	order, err := Compile(patch)
	if err != nil {
		patch.connections = slices.Insert(patch.connections, i, removed)
		return Swap{}, err
	}
	return Swap{Patch: patch, Order: order}, nil
}

// Destroy unlinks the node or sub-patch at path and everything below it
// from the control view. The returned block must be retired on the audio
// thread after the swap is committed.
func (s *Store) Destroy(path Path) (Block, Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path.IsRoot() {
		return nil, Swap{}, errRootProtected()
	}
	obj, ok := s.find(path)
	if !ok {
		return nil, Swap{}, errNotFound(path)
	}
	block, ok := obj.(Block)
	if !ok {
		return nil, Swap{}, errWrongKind(path, ObjectNode)
	}
	parent := block.Parent()
	parent.removeBlock(block)
	order, err := Compile(parent)
	if err != nil {
		parent.addBlock(block)
		return nil, Swap{}, err
	}
	s.remove(path)
	return block, Swap{Patch: parent, Order: order}, nil
}

// Clear unlinks every block of the patch at path
func (s *Store) Clear(path Path) ([]Block, Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch, err := s.findPatch(path)
	if err != nil {
		return nil, Swap{}, err
	}
	blocks := patch.blocks
	patch.blocks = nil
	// Only pass-through connections between the patch's own ports survive
	patch.connections = slices.DeleteFunc(patch.connections, func(c *Connection) bool {
		return c.src.block != Block(patch) || c.dst.block != Block(patch)
	})
	order, err := Compile(patch)
	if err != nil {
		return nil, Swap{}, err
	}
	for _, b := range blocks {
		s.remove(b.Path())
	}
	return blocks, Swap{Patch: patch, Order: order}, nil
}

// SetMetadata sets key on the object at path; an empty value deletes it
func (s *Store) SetMetadata(path Path, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.find(path)
	if !ok {
		return errNotFound(path)
	}
	obj.base().setMetadata(key, value)
	return nil
}
