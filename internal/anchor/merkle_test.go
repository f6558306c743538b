package anchor

import "testing"

func TestBuildTreeSingleLeaf(t *testing.T) {
	tree := BuildTree([]string{HashHex([]byte("a"))})
	if tree.Root() == "" {
		t.Fatal("expected non-empty root for single leaf")
	}
	if len(tree.Levels) != 1 {
		t.Fatalf("single leaf tree should have exactly one level, got %d", len(tree.Levels))
	}
}

func TestBuildTreeOddLeafDuplicatesOnce(t *testing.T) {
	leaves := []string{HashHex([]byte("a")), HashHex([]byte("b")), HashHex([]byte("c"))}
	tree := BuildTree(leaves)

	if len(tree.Leaves) != 4 {
		t.Fatalf("expected odd leaf count to duplicate to 4, got %d", len(tree.Leaves))
	}
	if tree.Leaves[3] != leaves[2] {
		t.Fatalf("expected last leaf duplicated, got %q want %q", tree.Leaves[3], leaves[2])
	}

	// 4 leaves -> 2 levels above the leaf level -> 3 levels total, no further
	// duplication (self-pairing fallback only, never appended).
	if len(tree.Levels) != 3 {
		t.Fatalf("expected 3 levels for 4 post-duplication leaves, got %d", len(tree.Levels))
	}
}

func TestBuildTreeOddInternalLevelSelfPairsWithoutDuplicating(t *testing.T) {
	// 5 leaves -> duplicate to 6 at the leaf level -> level1 has 3 nodes,
	// an odd internal level. It must self-pair (not duplicate-append) to
	// match original_source/merkle_anchor.py.
	leaves := make([]string, 5)
	for i := range leaves {
		leaves[i] = HashHex([]byte{byte(i)})
	}
	tree := BuildTree(leaves)

	if len(tree.Leaves) != 6 {
		t.Fatalf("expected 5-leaf input to duplicate to 6, got %d", len(tree.Leaves))
	}
	if len(tree.Levels[1]) != 3 {
		t.Fatalf("expected level 1 (3 pairs of 6) to have 3 nodes, got %d", len(tree.Levels[1]))
	}
	// level1 has 3 nodes (odd); level2 must be ceil(3/2) = 2, NOT produced
	// by appending a duplicate into level1 first.
	if len(tree.Levels[2]) != 2 {
		t.Fatalf("expected level 2 to have 2 nodes via self-pairing fallback, got %d", len(tree.Levels[2]))
	}
	// The third pair at level1 has no sibling, so it must self-pair: hash(h,h).
	expected := hashPair(tree.Levels[1][2], tree.Levels[1][2])
	if tree.Levels[2][1] != expected {
		t.Fatalf("expected self-paired hash at odd tail, got %q want %q", tree.Levels[2][1], expected)
	}
}

func TestBuildTreeDeterministic(t *testing.T) {
	leaves := []string{HashHex([]byte("x")), HashHex([]byte("y"))}
	r1 := BuildTree(leaves).Root()
	r2 := BuildTree(leaves).Root()
	if r1 != r2 {
		t.Fatalf("expected deterministic root, got %q and %q", r1, r2)
	}
}

func TestProofRoundTrip(t *testing.T) {
	leaves := []string{
		HashHex([]byte("a")), HashHex([]byte("b")),
		HashHex([]byte("c")), HashHex([]byte("d")),
		HashHex([]byte("e")),
	}
	tree := BuildTree(leaves)
	root := tree.Root()

	for i := range tree.Leaves {
		proof := tree.Proof(i)
		if !VerifyProof(root, tree.Leaves[i], proof) {
			t.Fatalf("proof for leaf %d failed to verify against root", i)
		}
	}
}

func TestVerifyProofRejectsWrongLeaf(t *testing.T) {
	leaves := []string{HashHex([]byte("a")), HashHex([]byte("b")), HashHex([]byte("c")), HashHex([]byte("d"))}
	tree := BuildTree(leaves)
	proof := tree.Proof(0)
	if VerifyProof(tree.Root(), HashHex([]byte("not-a-real-leaf")), proof) {
		t.Fatal("expected verification to fail for a substituted leaf")
	}
}

func TestVerifyAnchorDetectsDivergence(t *testing.T) {
	leaves := []string{HashHex([]byte("1")), HashHex([]byte("2")), HashHex([]byte("3"))}
	tree := BuildTree(leaves)

	a := Anchor{MerkleRoot: tree.Root(), LeafCount: len(leaves), LeafHashes: leaves}

	good := VerifyAnchor(a, leaves)
	if !good.OK {
		t.Fatalf("expected matching recomputation to verify, got %+v", good)
	}

	tampered := append([]string{}, leaves...)
	tampered[1] = HashHex([]byte("tampered"))
	bad := VerifyAnchor(a, tampered)
	if bad.OK {
		t.Fatal("expected tampered leaf set to fail verification")
	}
	if bad.FirstDivergingLeaf != 1 {
		t.Fatalf("expected first diverging leaf index 1, got %d", bad.FirstDivergingLeaf)
	}
}

func TestVerifyAnchorDetectsLeafCountMismatch(t *testing.T) {
	leaves := []string{HashHex([]byte("1")), HashHex([]byte("2"))}
	tree := BuildTree(leaves)
	a := Anchor{MerkleRoot: tree.Root(), LeafCount: len(leaves), LeafHashes: leaves}

	res := VerifyAnchor(a, leaves[:1])
	if res.OK || !res.LeafCountMismatch {
		t.Fatalf("expected leaf count mismatch, got %+v", res)
	}
}
