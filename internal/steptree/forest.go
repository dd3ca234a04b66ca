// Package steptree holds the action-step forest of a workflow configuration
// as an arena of nodes addressed by index.
package steptree

import (
	"sort"

	"github.com/rendis/stepflow/pkg/schema"
)

// Index addresses a node in the arena.
type Index int

const noParent Index = -1

type node struct {
	id       string
	parent   Index
	key      string // container key under parent; empty for root-level nodes
	children map[string][]Index
	removed  bool
}

// Forest is the ordered, nested collection of action steps of one
// configuration. Every step id appears in exactly one place: the root
// sequence or exactly one container of exactly one parent.
//
// Forest is not safe for concurrent mutation.
type Forest struct {
	nodes []node
	byID  map[string]Index
	roots []Index
}

// New returns an empty Forest.
func New() *Forest {
	return &Forest{byID: make(map[string]Index)}
}

// Build creates a Forest from a configuration's nested step references.
func Build(refs []schema.ActionStepReference) (*Forest, error) {
	f := New()
	if err := f.addRefs(refs, noParent, ""); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Forest) addRefs(refs []schema.ActionStepReference, parent Index, key string) error {
	for _, ref := range refs {
		idx, err := f.attachNew(ref.ActionStepID, parent, key, -1)
		if err != nil {
			return err
		}
		for _, childKey := range sortedKeys(ref.Children) {
			if err := f.addRefs(ref.Children[childKey], idx, childKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of steps in the forest.
func (f *Forest) Len() int { return len(f.byID) }

// Contains reports whether id is in the forest.
func (f *Forest) Contains(id string) bool {
	_, ok := f.byID[id]
	return ok
}

// RootIDs returns the root sequence in execution order.
func (f *Forest) RootIDs() []string {
	return f.idsOf(f.roots)
}

// IDs returns every step id in depth-first execution order.
func (f *Forest) IDs() []string {
	var out []string
	var walk func(list []Index)
	walk = func(list []Index) {
		for _, idx := range list {
			n := &f.nodes[idx]
			out = append(out, n.id)
			for _, key := range sortedKeys(n.children) {
				walk(n.children[key])
			}
		}
	}
	walk(f.roots)
	return out
}

// Parent returns the parent id and container key of id. A root-level step
// has an empty parent id.
func (f *Forest) Parent(id string) (parentID, key string, err error) {
	idx, err := f.lookup(id)
	if err != nil {
		return "", "", err
	}
	n := f.nodes[idx]
	if n.parent == noParent {
		return "", "", nil
	}
	return f.nodes[n.parent].id, n.key, nil
}

// Children returns the containers of id as ordered id lists. Nil when the
// step has no children.
func (f *Forest) Children(id string) (map[string][]string, error) {
	idx, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	n := f.nodes[idx]
	if len(n.children) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(n.children))
	for key, list := range n.children {
		out[key] = f.idsOf(list)
	}
	return out, nil
}

// References renders the forest as nested configuration references.
func (f *Forest) References() []schema.ActionStepReference {
	return f.refsOf(f.roots)
}

func (f *Forest) refsOf(list []Index) []schema.ActionStepReference {
	out := make([]schema.ActionStepReference, 0, len(list))
	for _, idx := range list {
		n := &f.nodes[idx]
		ref := schema.ActionStepReference{ActionStepID: n.id}
		if len(n.children) > 0 {
			ref.Children = make(map[string][]schema.ActionStepReference, len(n.children))
			for key, kids := range n.children {
				ref.Children[key] = f.refsOf(kids)
			}
		}
		out = append(out, ref)
	}
	return out
}

// Insert adds a new step under parentID's container key at position index.
// An empty parentID inserts into the root sequence. A negative or
// out-of-range index appends.
func (f *Forest) Insert(id, parentID, key string, index int) error {
	parent, err := f.parentIndex(parentID, key)
	if err != nil {
		return err
	}
	_, err = f.attachNew(id, parent, key, index)
	return err
}

// Remove deletes id and its whole subtree. It returns the removed ids in
// depth-first order.
func (f *Forest) Remove(id string) ([]string, error) {
	idx, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	f.detach(idx)

	var removed []string
	var drop func(i Index)
	drop = func(i Index) {
		n := &f.nodes[i]
		removed = append(removed, n.id)
		for _, key := range sortedKeys(n.children) {
			for _, child := range n.children[key] {
				drop(child)
			}
		}
		n.removed = true
		n.children = nil
		delete(f.byID, n.id)
	}
	drop(idx)
	return removed, nil
}

// Replace swaps oldID for newID in place. The new step takes over the old
// step's position and its children.
func (f *Forest) Replace(oldID, newID string) error {
	idx, err := f.lookup(oldID)
	if err != nil {
		return err
	}
	if newID == "" {
		return schema.NewError(schema.ErrInvalidTree, "replacement step id is empty")
	}
	if oldID == newID {
		return nil
	}
	if f.Contains(newID) {
		return schema.NewErrorf(schema.ErrInvalidTree, "step %q is already in the tree", newID)
	}
	delete(f.byID, oldID)
	f.nodes[idx].id = newID
	f.byID[newID] = idx
	return nil
}

// Move relocates id (with its subtree) under newParentID's container key at
// position index. An empty newParentID moves it to the root sequence. The
// index is interpreted after id has been detached from its old place.
// Moving a step below itself or one of its descendants is rejected.
func (f *Forest) Move(id, newParentID, key string, index int) error {
	idx, err := f.lookup(id)
	if err != nil {
		return err
	}
	parent, err := f.parentIndex(newParentID, key)
	if err != nil {
		return err
	}
	for p := parent; p != noParent; p = f.nodes[p].parent {
		if p == idx {
			return schema.NewErrorf(schema.ErrInvalidTree,
				"cannot move step %q below itself or its descendant %q", id, newParentID)
		}
	}
	f.detach(idx)
	f.attach(idx, parent, key, index)
	return nil
}

// Validate checks the structural invariants: every live step is reachable
// exactly once from the root sequence and its recorded parent matches the
// container holding it.
func (f *Forest) Validate() error {
	seen := make(map[Index]bool, len(f.byID))
	var walk func(list []Index, parent Index, key string) error
	walk = func(list []Index, parent Index, key string) error {
		for _, idx := range list {
			n := &f.nodes[idx]
			if n.removed {
				return schema.NewErrorf(schema.ErrInvalidTree, "removed step %q is still referenced", n.id)
			}
			if seen[idx] {
				return schema.NewErrorf(schema.ErrInvalidTree, "step %q appears in more than one place", n.id)
			}
			seen[idx] = true
			if n.parent != parent || n.key != key {
				return schema.NewErrorf(schema.ErrInvalidTree, "step %q has an inconsistent parent link", n.id)
			}
			for childKey, kids := range n.children {
				if err := walk(kids, idx, childKey); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(f.roots, noParent, ""); err != nil {
		return err
	}
	if len(seen) != len(f.byID) {
		return schema.NewErrorf(schema.ErrInvalidTree,
			"%d steps are unreachable from the root sequence", len(f.byID)-len(seen))
	}
	return nil
}

// --- arena internals ---

func (f *Forest) lookup(id string) (Index, error) {
	idx, ok := f.byID[id]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrActionStepNotFound, "step %q is not in the tree", id)
	}
	return idx, nil
}

func (f *Forest) parentIndex(parentID, key string) (Index, error) {
	if parentID == "" {
		return noParent, nil
	}
	if key == "" {
		return 0, schema.NewErrorf(schema.ErrInvalidTree, "a container key is required under parent %q", parentID)
	}
	return f.lookup(parentID)
}

func (f *Forest) attachNew(id string, parent Index, key string, index int) (Index, error) {
	if id == "" {
		return 0, schema.NewError(schema.ErrInvalidTree, "step id is empty")
	}
	if f.Contains(id) {
		return 0, schema.NewErrorf(schema.ErrInvalidTree, "step %q is already in the tree", id)
	}
	idx := Index(len(f.nodes))
	f.nodes = append(f.nodes, node{id: id, parent: noParent})
	f.byID[id] = idx
	f.attach(idx, parent, key, index)
	return idx, nil
}

// attach splices idx into the list owned by parent/key.
func (f *Forest) attach(idx, parent Index, key string, index int) {
	n := &f.nodes[idx]
	n.parent = parent
	if parent == noParent {
		n.key = ""
		f.roots = splice(f.roots, idx, index)
		return
	}
	n.key = key
	p := &f.nodes[parent]
	if p.children == nil {
		p.children = make(map[string][]Index)
	}
	p.children[key] = splice(p.children[key], idx, index)
}

// detach removes idx from the list that currently holds it.
func (f *Forest) detach(idx Index) {
	n := &f.nodes[idx]
	if n.parent == noParent {
		f.roots = without(f.roots, idx)
		return
	}
	p := &f.nodes[n.parent]
	list := without(p.children[n.key], idx)
	if len(list) == 0 {
		delete(p.children, n.key)
	} else {
		p.children[n.key] = list
	}
	n.parent = noParent
	n.key = ""
}

func (f *Forest) idsOf(list []Index) []string {
	out := make([]string, len(list))
	for i, idx := range list {
		out[i] = f.nodes[idx].id
	}
	return out
}

func splice(list []Index, idx Index, at int) []Index {
	if at < 0 || at >= len(list) {
		return append(list, idx)
	}
	list = append(list, 0)
	copy(list[at+1:], list[at:])
	list[at] = idx
	return list
}

func without(list []Index, idx Index) []Index {
	out := list[:0:0]
	for _, i := range list {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
