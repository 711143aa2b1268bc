package kv

import (
	"fmt"
	"path/filepath"

	"bptreekv/search"
	"bptreekv/util"
)

// Capacities configures the overflow thresholds and buffer pool sizing for a
// tree. kInternalSize/kLeafSize are compile-time template parameters in the
// design this is ported from; Go has no const generics, so they become
// runtime fields the caller must supply consistently across Open calls
// against the same pair of files.
type Capacities struct {
	// InternalSize is kInternalSize: the internal-node overflow trigger.
	// Must be >= 4 (so kInternalSize/2 >= 2, keeping splits meaningful).
	InternalSize int
	// LeafSize is kLeafSize: the leaf-node overflow trigger. Must be >= 2.
	LeafSize int
	// BufferPoolSize is the page capacity of each of the two buffer pools.
	BufferPoolSize int
}

// Tree is a persistent, disk-backed B+ tree index over key type K and value
// type V. It is not safe for concurrent use (spec.md §5): all operations
// must be serialized by the caller.
type Tree[K, V any] struct {
	store    *pageStore
	keyCodec Codec[K]
	valCodec Codec[V]
	cmp      Comparator[K]
	cap      Capacities

	root   *internalNode[K]
	size   int
	closed bool
}

// Open opens or creates the two record files <dir>/<prefix>tree.dat and
// <dir>/<prefix>leaf.dat, bootstrapping a fresh empty tree if neither
// exists.
func Open[K, V any](dir, prefix string, capacities Capacities, keyCodec Codec[K], valCodec Codec[V], cmp Comparator[K]) (*Tree[K, V], error) {
	treePath := filepath.Join(dir, prefix+"tree.dat")
	leafPath := filepath.Join(dir, prefix+"leaf.dat")

	treeFile, treeExisted, err := openFileRecordFile(treePath)
	if err != nil {
		return nil, err
	}
	leafFile, leafExisted, err := openFileRecordFile(leafPath)
	if err != nil {
		_ = treeFile.close()
		return nil, err
	}

	return newTree[K, V](treeFile, leafFile, treeExisted && leafExisted, capacities, keyCodec, valCodec, cmp)
}

// OpenMem creates a fresh in-memory tree, useful for tests that want the
// engine's semantics without touching a filesystem.
func OpenMem[K, V any](capacities Capacities, keyCodec Codec[K], valCodec Codec[V], cmp Comparator[K]) (*Tree[K, V], error) {
	return newTree[K, V](newMemRecordFile(), newMemRecordFile(), false, capacities, keyCodec, valCodec, cmp)
}

func newTree[K, V any](treeFile, leafFile recordFile, existed bool, capacities Capacities, keyCodec Codec[K], valCodec Codec[V], cmp Comparator[K]) (*Tree[K, V], error) {
	store := &pageStore{
		treeFile:        treeFile,
		leafFile:        leafFile,
		internalPool:    NewBufferPool(capacities.BufferPoolSize),
		leafPool:        NewBufferPool(capacities.BufferPoolSize),
		internalRecSize: internalRecordSize(capacities.InternalSize, keyCodec),
		leafRecSize:     leafRecordSize(capacities.LeafSize, keyCodec.Size(), valCodec.Size()),
	}

	t := &Tree[K, V]{
		store:    store,
		keyCodec: keyCodec,
		valCodec: valCodec,
		cmp:      cmp,
		cap:      capacities,
	}

	if !existed {
		leaf := newLeafNode[K, V](capacities.LeafSize)
		leaf.pos = store.allocLeaf()
		if err := t.saveLeaf(leaf); err != nil {
			return nil, err
		}

		root := newInternalNode[K](capacities.InternalSize)
		root.isLeaf = true
		root.num = 1
		root.pos = store.allocInternal()
		root.son[0] = leaf.pos

		t.root = root
		t.size = 0
		return t, nil
	}

	rootPos, lastInternal, err := treeFile.readHeader()
	if err != nil {
		return nil, err
	}
	store.lastInternal = PageID(lastInternal)

	lastLeaf, size, err := leafFile.readHeader()
	if err != nil {
		return nil, err
	}
	store.lastLeaf = PageID(lastLeaf)
	t.size = int(size)

	rootRec, err := treeFile.readRecord(PageID(rootPos), store.internalRecSize)
	if err != nil {
		return nil, err
	}
	t.root = decodeInternal(rootRec, keyCodec, capacities.InternalSize)

	return t, nil
}

// Close flushes the headers, writes the in-memory root to its slot, drains
// both buffer pools, and releases the file handles. Must be called exactly
// once on every successfully opened tree.
func (t *Tree[K, V]) Close() error {
	if t.closed {
		return nil
	}

	if err := t.store.treeFile.writeHeader(uint32(t.root.pos), uint32(t.store.lastInternal)); err != nil {
		return err
	}
	if err := t.store.leafFile.writeHeader(uint32(t.store.lastLeaf), uint32(t.size)); err != nil {
		return err
	}

	rootRec := make([]byte, t.store.internalRecSize)
	encodeInternal(t.root, t.keyCodec, t.cap.InternalSize, rootRec)
	if err := t.store.treeFile.writeRecord(t.root.pos, rootRec); err != nil {
		return err
	}

	if err := t.store.flushAll(); err != nil {
		return err
	}
	if err := t.store.treeFile.close(); err != nil {
		return err
	}
	if err := t.store.leafFile.close(); err != nil {
		return err
	}

	t.closed = true
	return nil
}

// Empty reports whether the tree holds no keys.
func (t *Tree[K, V]) Empty() bool {
	return t.size == 0
}

// Size returns the total number of keys in the tree.
func (t *Tree[K, V]) Size() int {
	return t.size
}

func (t *Tree[K, V]) loadInternal(pos PageID) (*internalNode[K], error) {
	rec, err := t.store.readInternal(pos)
	if err != nil {
		return nil, err
	}
	return decodeInternal(rec, t.keyCodec, t.cap.InternalSize), nil
}

func (t *Tree[K, V]) saveInternal(n *internalNode[K]) error {
	rec := make([]byte, t.store.internalRecSize)
	encodeInternal(n, t.keyCodec, t.cap.InternalSize, rec)
	return t.store.writeInternal(n.pos, rec)
}

func (t *Tree[K, V]) loadLeaf(pos PageID) (*leafNode[K, V], error) {
	rec, err := t.store.readLeaf(pos)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(rec, t.keyCodec, t.valCodec, t.cap.LeafSize), nil
}

func (t *Tree[K, V]) saveLeaf(n *leafNode[K, V]) error {
	rec := make([]byte, t.store.leafRecSize)
	encodeLeaf(n, t.keyCodec, t.valCodec, t.cap.LeafSize, rec)
	return t.store.writeLeaf(n.pos, rec)
}

// searchInternal implements spec.md §4.4's internal-lookup search: the
// smallest i such that k <= key[i], or num-1 if no such separator exists.
func (t *Tree[K, V]) searchInternal(f *internalNode[K], k K) int {
	idx, _ := search.BinaryBy(k, f.key[:f.num-1], t.cmp)
	return int(idx)
}

// locateLeaf descends from the root to the leaf that would hold k, without
// tracking a path back up (used by read-only operations that never need to
// rebalance: Get, Modify, the start of Range).
func (t *Tree[K, V]) locateLeaf(k K) (*leafNode[K, V], error) {
	cur := t.root
	for !cur.isLeaf {
		pos := t.searchInternal(cur, k)
		child, err := t.loadInternal(cur.son[pos])
		if err != nil {
			return nil, err
		}
		cur = child
	}
	pos := t.searchInternal(cur, k)
	return t.loadLeaf(cur.son[pos])
}

// insertChildInto inserts a freshly split-off child's page id and its
// promoted separator key into f immediately after slot afterPos, shifting
// later entries right by one and incrementing f.num.
func insertChildInto[K any](f *internalNode[K], afterPos int, child PageID, separator K) {
	util.ShiftRight(f.son, afterPos+1, f.num)
	f.son[afterPos+1] = child
	util.ShiftRight(f.key, afterPos, f.num-1)
	f.key[afterPos] = separator
	f.num++
}

// Insert adds (k, v) to the tree. If k is already present, Insert returns
// ErrKeyExists and leaves the tree unchanged (spec.md §9 Open Question 1,
// resolved in SPEC_FULL.md §6).
func (t *Tree[K, V]) Insert(k K, v V) error {
	if t.closed {
		return ErrClosed
	}

	overflow, err := t.insertHelper(t.root, k, v)
	if err != nil {
		return err
	}
	if overflow {
		if err := t.growRoot(); err != nil {
			return err
		}
	}
	t.size++
	return nil
}

// insertHelper implements spec.md §4.5's recursive insert contract: it
// returns true iff f itself now needs to be split by its caller, in which
// case f is left unsaved (the split, done by the caller, writes it). If f
// does not overflow, it is written here (unless f is the in-memory root,
// which is never itself persisted through the page store) and false is
// returned.
func (t *Tree[K, V]) insertHelper(f *internalNode[K], k K, v V) (overflow bool, err error) {
	pos := t.searchInternal(f, k)

	if f.isLeaf {
		L, err := t.loadLeaf(f.son[pos])
		if err != nil {
			return false, err
		}

		slot, exact := search.BinaryBy(k, L.keys[:L.num], t.cmp)
		if exact {
			return false, ErrKeyExists
		}

		util.ShiftRight(L.keys, int(slot), L.num)
		util.ShiftRight(L.vals, int(slot), L.num)
		L.keys[slot] = k
		L.vals[slot] = v
		L.num++

		if L.isFull(t.cap.LeafSize) {
			m := t.cap.LeafSize / 2
			R := newLeafNode[K, V](t.cap.LeafSize)
			R.num = L.num - m
			copy(R.keys[:R.num], L.keys[m:L.num])
			copy(R.vals[:R.num], L.vals[m:L.num])
			R.pos = t.store.allocLeaf()
			R.nxt = L.nxt
			L.nxt = R.pos
			L.num = m

			if err := t.saveLeaf(L); err != nil {
				return false, err
			}
			if err := t.saveLeaf(R); err != nil {
				return false, err
			}
			insertChildInto(f, pos, R.pos, L.keys[L.num-1])
		} else {
			if err := t.saveLeaf(L); err != nil {
				return false, err
			}
		}
	} else {
		S, err := t.loadInternal(f.son[pos])
		if err != nil {
			return false, err
		}

		childOverflow, err := t.insertHelper(S, k, v)
		if err != nil {
			return false, err
		}

		if childOverflow {
			m := t.cap.InternalSize / 2
			R := newInternalNode[K](t.cap.InternalSize)
			R.isLeaf = S.isLeaf
			R.num = S.num - m
			copy(R.son[:R.num], S.son[m:S.num])
			copy(R.key[:R.num-1], S.key[m:S.num-1])
			R.pos = t.store.allocInternal()
			S.num = m

			if err := t.saveInternal(S); err != nil {
				return false, err
			}
			if err := t.saveInternal(R); err != nil {
				return false, err
			}
			insertChildInto(f, pos, R.pos, S.key[S.num-1])
		}
	}

	if f.num == t.cap.InternalSize {
		return true, nil
	}
	if f != t.root {
		if err := t.saveInternal(f); err != nil {
			return false, err
		}
	}
	return false, nil
}

// growRoot splits an overflowed root in two and wraps both halves in a
// freshly allocated root with two children (spec.md §4.5 "Root overflow").
func (t *Tree[K, V]) growRoot() error {
	old := t.root
	m := t.cap.InternalSize / 2

	brother := newInternalNode[K](t.cap.InternalSize)
	brother.isLeaf = old.isLeaf
	brother.num = old.num - m
	copy(brother.son[:brother.num], old.son[m:old.num])
	copy(brother.key[:brother.num-1], old.key[m:old.num-1])
	brother.pos = t.store.allocInternal()

	separator := old.key[m-1]
	old.num = m

	if err := t.saveInternal(old); err != nil {
		return err
	}
	if err := t.saveInternal(brother); err != nil {
		return err
	}

	newRoot := newInternalNode[K](t.cap.InternalSize)
	newRoot.isLeaf = false
	newRoot.num = 2
	newRoot.son[0] = old.pos
	newRoot.son[1] = brother.pos
	newRoot.key[0] = separator
	newRoot.pos = t.store.allocInternal()

	t.root = newRoot
	return nil
}

// Get returns the value for k and whether it was found.
func (t *Tree[K, V]) Get(k K) (V, bool, error) {
	var zero V
	if t.closed {
		return zero, false, ErrClosed
	}

	L, err := t.locateLeaf(k)
	if err != nil {
		return zero, false, err
	}
	idx, exact := search.BinaryBy(k, L.keys[:L.num], t.cmp)
	if !exact {
		return zero, false, nil
	}
	return L.vals[idx], true, nil
}

// Modify overwrites the value stored for k, if present, and reports whether
// k was found (spec.md §9 Open Question 3, resolved as a no-op on absence).
func (t *Tree[K, V]) Modify(k K, v V) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}

	L, err := t.locateLeaf(k)
	if err != nil {
		return false, err
	}
	idx, exact := search.BinaryBy(k, L.keys[:L.num], t.cmp)
	if !exact {
		return false, nil
	}
	L.vals[idx] = v
	if err := t.saveLeaf(L); err != nil {
		return false, err
	}
	return true, nil
}

// Range visits, in ascending key order, every (k, v) pair with lo <= k <=
// hi, stopping early if visit returns false.
func (t *Tree[K, V]) Range(lo, hi K, visit func(K, V) bool) error {
	if t.closed {
		return ErrClosed
	}

	L, err := t.locateLeaf(lo)
	if err != nil {
		return err
	}
	idx, _ := search.BinaryBy(lo, L.keys[:L.num], t.cmp)

	for {
		for ; idx < L.num; idx++ {
			k := L.keys[idx]
			if t.cmp(k, hi) > 0 {
				return nil
			}
			if !visit(k, L.vals[idx]) {
				return nil
			}
		}
		if L.nxt == 0 {
			return nil
		}
		L, err = t.loadLeaf(L.nxt)
		if err != nil {
			return err
		}
		idx = 0
	}
}

// Remove deletes k if present and reports whether it was found (spec.md §9
// Open Question 2, resolved as a no-op on absence).
func (t *Tree[K, V]) Remove(k K) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}

	rootUnderflow, removed, err := t.deleteHelper(t.root, k)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	t.size--

	_ = rootUnderflow
	if !t.root.isLeaf && t.root.num == 1 {
		child, err := t.loadInternal(t.root.son[0])
		if err != nil {
			return true, err
		}
		t.store.removeInternal(t.root.pos)
		t.store.removeInternal(child.pos)
		t.root = child
	}

	return true, nil
}

// deleteHelper implements spec.md §4.6's recursive delete contract: it
// returns (underflow, removed, err). underflow is true iff f itself now
// falls below its merge threshold and its caller must rebalance it, in
// which case f is left unsaved. removed is false iff k was never found, in
// which case nothing in the subtree rooted at f changed.
func (t *Tree[K, V]) deleteHelper(f *internalNode[K], k K) (underflow bool, removed bool, err error) {
	pos := t.searchInternal(f, k)

	if f.isLeaf {
		return t.deleteLeafLevel(f, pos, k)
	}
	return t.deleteInternalLevel(f, pos, k)
}

func (t *Tree[K, V]) deleteLeafLevel(f *internalNode[K], pos int, k K) (underflow bool, removed bool, err error) {
	L, err := t.loadLeaf(f.son[pos])
	if err != nil {
		return false, false, err
	}

	idx, exact := search.BinaryBy(k, L.keys[:L.num], t.cmp)
	if !exact {
		return false, false, nil
	}

	util.ShiftLeft(L.keys, int(idx)+1, L.num)
	util.ShiftLeft(L.vals, int(idx)+1, L.num)
	L.num--

	m := t.cap.LeafSize / 2
	if L.num >= m || f.num == 1 {
		if err := t.saveLeaf(L); err != nil {
			return false, false, err
		}
		return false, true, nil
	}

	if pos > 0 {
		left, err := t.loadLeaf(f.son[pos-1])
		if err != nil {
			return false, false, err
		}
		if left.num > m {
			util.ShiftRight(L.keys, 0, L.num)
			util.ShiftRight(L.vals, 0, L.num)
			L.keys[0] = left.keys[left.num-1]
			L.vals[0] = left.vals[left.num-1]
			left.num--
			L.num++
			f.key[pos-1] = left.keys[left.num-1]

			if err := t.saveLeaf(left); err != nil {
				return false, false, err
			}
			if err := t.saveLeaf(L); err != nil {
				return false, false, err
			}
			if f != t.root {
				if err := t.saveInternal(f); err != nil {
					return false, false, err
				}
			}
			return false, true, nil
		}
	}

	if pos < f.num-1 {
		right, err := t.loadLeaf(f.son[pos+1])
		if err != nil {
			return false, false, err
		}
		if right.num > m {
			L.keys[L.num] = right.keys[0]
			L.vals[L.num] = right.vals[0]
			L.num++
			util.ShiftLeft(right.keys, 1, right.num)
			util.ShiftLeft(right.vals, 1, right.num)
			right.num--
			f.key[pos] = L.keys[L.num-1]

			if err := t.saveLeaf(right); err != nil {
				return false, false, err
			}
			if err := t.saveLeaf(L); err != nil {
				return false, false, err
			}
			if f != t.root {
				if err := t.saveInternal(f); err != nil {
					return false, false, err
				}
			}
			return false, true, nil
		}
	}

	if pos > 0 {
		left, err := t.loadLeaf(f.son[pos-1])
		if err != nil {
			return false, false, err
		}
		copy(left.keys[left.num:left.num+L.num], L.keys[:L.num])
		copy(left.vals[left.num:left.num+L.num], L.vals[:L.num])
		left.num += L.num
		left.nxt = L.nxt
		if err := t.saveLeaf(left); err != nil {
			return false, false, err
		}
		t.store.removeLeaf(L.pos)

		util.ShiftLeft(f.son, pos+1, f.num)
		util.ShiftLeft(f.key, pos, f.num-1)
		f.num--
	} else {
		right, err := t.loadLeaf(f.son[pos+1])
		if err != nil {
			return false, false, err
		}
		copy(L.keys[L.num:L.num+right.num], right.keys[:right.num])
		copy(L.vals[L.num:L.num+right.num], right.vals[:right.num])
		L.num += right.num
		L.nxt = right.nxt
		if err := t.saveLeaf(L); err != nil {
			return false, false, err
		}
		t.store.removeLeaf(right.pos)

		util.ShiftLeft(f.son, pos+2, f.num)
		util.ShiftLeft(f.key, pos+1, f.num-1)
		f.num--
	}

	mInternal := t.cap.InternalSize / 2
	if f.num < mInternal {
		return true, true, nil
	}
	if f != t.root {
		if err := t.saveInternal(f); err != nil {
			return false, true, err
		}
	}
	return false, true, nil
}

func (t *Tree[K, V]) deleteInternalLevel(f *internalNode[K], pos int, k K) (underflow bool, removed bool, err error) {
	S, err := t.loadInternal(f.son[pos])
	if err != nil {
		return false, false, err
	}

	childUnderflow, removed, err := t.deleteHelper(S, k)
	if err != nil {
		return false, false, err
	}
	if !removed {
		return false, false, nil
	}
	if !childUnderflow {
		return false, true, nil
	}

	mInternal := t.cap.InternalSize / 2

	if pos > 0 {
		left, err := t.loadInternal(f.son[pos-1])
		if err != nil {
			return false, false, err
		}
		if left.num > mInternal {
			donorKey := left.key[left.num-2]

			util.ShiftRight(S.son, 0, S.num)
			S.son[0] = left.son[left.num-1]
			util.ShiftRight(S.key, 0, S.num-1)
			S.key[0] = f.key[pos-1]
			f.key[pos-1] = donorKey
			left.num--
			S.num++

			if err := t.saveInternal(left); err != nil {
				return false, false, err
			}
			if err := t.saveInternal(S); err != nil {
				return false, false, err
			}
			if f != t.root {
				if err := t.saveInternal(f); err != nil {
					return false, false, err
				}
			}
			return false, true, nil
		}
	}

	if pos < f.num-1 {
		right, err := t.loadInternal(f.son[pos+1])
		if err != nil {
			return false, false, err
		}
		if right.num > mInternal {
			promoted := right.key[0]

			S.son[S.num] = right.son[0]
			S.key[S.num-1] = f.key[pos]
			f.key[pos] = promoted
			S.num++
			util.ShiftLeft(right.son, 1, right.num)
			util.ShiftLeft(right.key, 1, right.num-1)
			right.num--

			if err := t.saveInternal(right); err != nil {
				return false, false, err
			}
			if err := t.saveInternal(S); err != nil {
				return false, false, err
			}
			if f != t.root {
				if err := t.saveInternal(f); err != nil {
					return false, false, err
				}
			}
			return false, true, nil
		}
	}

	if pos > 0 {
		left, err := t.loadInternal(f.son[pos-1])
		if err != nil {
			return false, false, err
		}
		left.key[left.num-1] = f.key[pos-1]
		copy(left.son[left.num:left.num+S.num], S.son[:S.num])
		copy(left.key[left.num:left.num+S.num-1], S.key[:S.num-1])
		left.num += S.num
		if err := t.saveInternal(left); err != nil {
			return false, false, err
		}
		t.store.removeInternal(S.pos)

		util.ShiftLeft(f.son, pos+1, f.num)
		util.ShiftLeft(f.key, pos, f.num-1)
		f.num--
	} else {
		right, err := t.loadInternal(f.son[pos+1])
		if err != nil {
			return false, false, err
		}
		S.key[S.num-1] = f.key[pos]
		copy(S.son[S.num:S.num+right.num], right.son[:right.num])
		copy(S.key[S.num:S.num+right.num-1], right.key[:right.num-1])
		S.num += right.num
		if err := t.saveInternal(S); err != nil {
			return false, false, err
		}
		t.store.removeInternal(right.pos)

		util.ShiftLeft(f.son, pos+2, f.num)
		util.ShiftLeft(f.key, pos+1, f.num-1)
		f.num--
	}

	if f.num < mInternal {
		return true, true, nil
	}
	if f != t.root {
		if err := t.saveInternal(f); err != nil {
			return false, true, err
		}
	}
	return false, true, nil
}

// DebugString renders the tree's structure for manual inspection, grounded
// in the same role as the source's debug dump.
func (t *Tree[K, V]) DebugString() string {
	var sb []byte
	sb = t.debugNode(sb, t.root, 0)
	return string(sb)
}

func (t *Tree[K, V]) debugNode(sb []byte, n *internalNode[K], depth int) []byte {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	sb = append(sb, []byte(fmt.Sprintf("%sinternal pos=%d isLeaf=%v num=%d keys=%v\n", indent, n.pos, n.isLeaf, n.num, n.key[:util.Max(n.num-1, 0)]))...)

	for i := 0; i < n.num; i++ {
		if n.isLeaf {
			leaf, err := t.loadLeaf(n.son[i])
			if err != nil {
				sb = append(sb, []byte(fmt.Sprintf("%s  leaf pos=%d <error: %v>\n", indent, n.son[i], err))...)
				continue
			}
			sb = append(sb, []byte(fmt.Sprintf("%s  leaf pos=%d nxt=%d keys=%v\n", indent, leaf.pos, leaf.nxt, leaf.keys[:leaf.num]))...)
		} else {
			child, err := t.loadInternal(n.son[i])
			if err != nil {
				sb = append(sb, []byte(fmt.Sprintf("%s  internal pos=%d <error: %v>\n", indent, n.son[i], err))...)
				continue
			}
			sb = t.debugNode(sb, child, depth+1)
		}
	}
	return sb
}
