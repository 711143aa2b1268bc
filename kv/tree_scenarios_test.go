package kv

import (
	"math/rand"
	"testing"
)

// TestScenarioEmptyTree covers S1: a freshly opened tree is empty and a Get
// against it fails cleanly.
func TestScenarioEmptyTree(t *testing.T) {
	tree := newTestTree(t, 4, 10)

	if !tree.Empty() {
		t.Fatalf("fresh tree should be empty")
	}
	if tree.Size() != 0 {
		t.Fatalf("fresh tree Size() = %d, expected 0", tree.Size())
	}
	if _, found, err := tree.Get(1); err != nil || found {
		t.Fatalf("Get on empty tree = (found=%v, err=%v), expected (false, nil)", found, err)
	}
}

// TestScenarioSingleInsertFind covers S2: after one insert, the root is
// still a single leaf-routing node, and the key is found.
func TestScenarioSingleInsertFind(t *testing.T) {
	tree := newTestTree(t, 4, 10)

	if err := tree.Insert(42, 100); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !tree.root.isLeaf || tree.root.num != 1 {
		t.Fatalf("root after single insert: isLeaf=%v num=%d, expected (true, 1)", tree.root.isLeaf, tree.root.num)
	}

	v, found, err := tree.Get(42)
	if err != nil || !found || v != 100 {
		t.Fatalf("Get(42) = (%d, %v, %v), expected (100, true, nil)", v, found, err)
	}
}

// TestScenarioForcedLeafSplit covers S3: inserting keys 1..10 into a tree
// with kLeafSize=10 forces the tenth insert to split the root's only leaf,
// producing a two-child root (still routing to leaves) with separator 5 and
// two leaves of num=5 each.
func TestScenarioForcedLeafSplit(t *testing.T) {
	tree := newTestTree(t, 64, 10)

	for i := uint64(1); i <= 10; i++ {
		if err := tree.Insert(i, i*100); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if !tree.root.isLeaf {
		t.Fatalf("root's children are leaves, so root.isLeaf should still be true")
	}
	if tree.root.num != 2 {
		t.Fatalf("root.num = %d, expected 2", tree.root.num)
	}
	if tree.root.key[0] != 5 {
		t.Fatalf("root separator = %d, expected 5", tree.root.key[0])
	}

	left, err := tree.loadLeaf(tree.root.son[0])
	if err != nil {
		t.Fatalf("loadLeaf(left): %v", err)
	}
	right, err := tree.loadLeaf(tree.root.son[1])
	if err != nil {
		t.Fatalf("loadLeaf(right): %v", err)
	}
	if left.num != 5 || right.num != 5 {
		t.Fatalf("left.num=%d right.num=%d, expected 5/5", left.num, right.num)
	}
	if left.nxt != right.pos {
		t.Fatalf("left leaf does not chain to right leaf")
	}

	for i := uint64(1); i <= 10; i++ {
		v, found, err := tree.Get(i)
		if err != nil || !found || v != i*100 {
			t.Fatalf("Get(%d) = (%d, %v, %v), expected (%d, true, nil)", i, v, found, err, i*100)
		}
	}
}

// TestScenarioDeleteMerge covers S4: deleting key 1 from the S3 tree leaves
// the left leaf at 4 < kLeafSize/2 while its right sibling has no key to
// spare (5), so the two leaves merge and the root is left routing to a
// single leaf; the later deletions only shrink that leaf.
func TestScenarioDeleteMerge(t *testing.T) {
	tree := newTestTree(t, 64, 10)
	for i := uint64(1); i <= 10; i++ {
		if err := tree.Insert(i, i*100); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for _, k := range []uint64{1, 2, 3, 4, 5} {
		removed, err := tree.Remove(k)
		if err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
		if !removed {
			t.Fatalf("Remove(%d) reported not found", k)
		}
		if _, found, err := tree.Get(k); err != nil || found {
			t.Fatalf("Get(%d) after removal = (found=%v, err=%v), expected (false, nil)", k, found, err)
		}
		for _, surviving := range []uint64{6, 7, 8, 9, 10} {
			if surviving <= k {
				continue
			}
			if _, found, err := tree.Get(surviving); err != nil || !found {
				t.Fatalf("Get(%d) should still be found after removing %d", surviving, k)
			}
		}
	}

	if tree.Size() != 5 {
		t.Fatalf("Size() = %d, expected 5", tree.Size())
	}
	if !tree.root.isLeaf || tree.root.num != 1 {
		t.Fatalf("root should have collapsed to a single leaf: isLeaf=%v num=%d", tree.root.isLeaf, tree.root.num)
	}

	var got []uint64
	err := tree.Range(0, 100, func(_ uint64, v uint64) bool {
		got = append(got, v)
		return true
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	want := []uint64{600, 700, 800, 900, 1000}
	if len(got) != len(want) {
		t.Fatalf("Range() = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Range()[%d] = %d, expected %d", i, got[i], want[i])
		}
	}
}

// TestScenarioRangeAcrossLeaves covers S5: keys inserted in random order
// still yield a correctly ordered range spanning several leaves.
func TestScenarioRangeAcrossLeaves(t *testing.T) {
	tree := newTestTree(t, 5, 5)

	order := rand.New(rand.NewSource(7)).Perm(100)
	for _, k := range order {
		if err := tree.Insert(uint64(k), uint64(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	var got []uint64
	err := tree.Range(30, 70, func(k uint64, _ uint64) bool {
		got = append(got, k)
		return true
	})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 41 {
		t.Fatalf("Range(30, 70) returned %d keys, expected 41", len(got))
	}
	for i, want := uint64(30), 0; want < len(got); i, want = i+1, want+1 {
		if got[want] != i {
			t.Fatalf("Range()[%d] = %d, expected %d", want, got[want], i)
		}
	}
}

// TestScenarioPersistenceRoundTrip covers S6: closing and reopening a
// file-backed tree preserves every key and the overall structure.
func TestScenarioPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	capacities := Capacities{InternalSize: 4, LeafSize: 4, BufferPoolSize: 4}

	tree, err := Open[uint64, uint64](dir, "idx-", capacities, Uint64Codec{}, Uint64Codec{}, Uint64Comparator)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint64(0); i < 60; i++ {
		if err := tree.Insert(i, i*10); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open[uint64, uint64](dir, "idx-", capacities, Uint64Codec{}, Uint64Codec{}, Uint64Comparator)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Size() != 60 {
		t.Fatalf("reopened Size() = %d, expected 60", reopened.Size())
	}
	for i := uint64(0); i < 60; i++ {
		v, found, err := reopened.Get(i)
		if err != nil || !found || v != i*10 {
			t.Fatalf("Get(%d) after reopen = (%d, %v, %v), expected (%d, true, nil)", i, v, found, err, i*10)
		}
	}

	var got []uint64
	err = reopened.Range(0, 59, func(_ uint64, v uint64) bool {
		got = append(got, v)
		return true
	})
	if err != nil {
		t.Fatalf("Range after reopen: %v", err)
	}
	if len(got) != 60 {
		t.Fatalf("Range after reopen returned %d values, expected 60", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("Range after reopen not ascending at %d", i)
		}
	}
}
