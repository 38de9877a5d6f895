package ot

import "testing"

func TestTransformAddAddLocalWins(t *testing.T) {
	local := Op{Op: "add", Path: "/items/2", Value: "L"}
	remote := Op{Op: "add", Path: "/items/5", Value: "R"}

	newLocal, newRemote, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newLocal.Path != "/items/2" {
		t.Fatalf("expected local unchanged at /items/2, got %s", newLocal.Path)
	}
	if newRemote.Path != "/items/6" {
		t.Fatalf("expected remote shifted to /items/6, got %s", newRemote.Path)
	}
}

func TestTransformAddAddRemoteWins(t *testing.T) {
	local := Op{Op: "add", Path: "/items/5", Value: "L"}
	remote := Op{Op: "add", Path: "/items/2", Value: "R"}

	newLocal, newRemote, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newLocal.Path != "/items/6" {
		t.Fatalf("expected local shifted to /items/6, got %s", newLocal.Path)
	}
	if newRemote.Path != "/items/2" {
		t.Fatalf("expected remote unchanged, got %s", newRemote.Path)
	}
}

func TestTransformRemoveRemoveSameIndexConflict(t *testing.T) {
	local := Op{Op: "remove", Path: "/items/3"}
	remote := Op{Op: "remove", Path: "/items/3"}

	newLocal, newRemote, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newLocal != local || newRemote != remote {
		t.Fatalf("expected both unchanged on same-index remove conflict")
	}
}

func TestTransformRemoveRemoveShiftDown(t *testing.T) {
	local := Op{Op: "remove", Path: "/items/1"}
	remote := Op{Op: "remove", Path: "/items/4"}

	newLocal, newRemote, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newLocal.Path != "/items/1" {
		t.Fatalf("expected local unchanged, got %s", newLocal.Path)
	}
	if newRemote.Path != "/items/3" {
		t.Fatalf("expected remote shifted down to /items/3, got %s", newRemote.Path)
	}
}

func TestTransformAddRemove(t *testing.T) {
	add := Op{Op: "add", Path: "/items/1", Value: "X"}
	remove := Op{Op: "remove", Path: "/items/4"}

	newAdd, newRemove, err := Transform(add, remove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newAdd.Path != "/items/1" {
		t.Fatalf("expected add unchanged, got %s", newAdd.Path)
	}
	if newRemove.Path != "/items/5" {
		t.Fatalf("expected remove shifted up to /items/5, got %s", newRemove.Path)
	}
}

func TestTransformRemoveAddSwapsCorrectly(t *testing.T) {
	remove := Op{Op: "remove", Path: "/items/4"}
	add := Op{Op: "add", Path: "/items/1", Value: "X"}

	newRemove, newAdd, err := Transform(remove, add)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newAdd.Path != "/items/1" {
		t.Fatalf("expected add unchanged, got %s", newAdd.Path)
	}
	if newRemove.Path != "/items/5" {
		t.Fatalf("expected remove shifted up to /items/5, got %s", newRemove.Path)
	}
}

func TestTransformPassThroughForReplaceMoveCopyTest(t *testing.T) {
	cases := []struct{ localOp, remoteOp string }{
		{"replace", "replace"},
		{"test", "add"},
		{"move", "replace"},
		{"copy", "remove"},
	}
	for _, tc := range cases {
		local := Op{Op: tc.localOp, Path: "/items/2"}
		remote := Op{Op: tc.remoteOp, Path: "/items/2"}
		newLocal, newRemote, err := Transform(local, remote)
		if err != nil {
			t.Fatalf("unexpected error for %+v: %v", tc, err)
		}
		if newLocal != local || newRemote != remote {
			t.Fatalf("expected pass-through for %+v, got %+v / %+v", tc, newLocal, newRemote)
		}
	}
}

func TestTransformUnderflowErrors(t *testing.T) {
	local := Op{Op: "remove", Path: "/items/0"}
	remote := Op{Op: "remove", Path: "/items/5"}
	// local index 0 > 5 is false, 0 < 5 true -> remote shifts down to 4, fine.
	// With li > ri the local op shifts down instead (5 -> 4): Transform only
	// ever shifts the larger index down, so it cannot underflow by itself.
	local = Op{Op: "remove", Path: "/items/5"}
	remote = Op{Op: "remove", Path: "/items/0"}
	if _, _, err := Transform(local, remote); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A shift below zero is reported as an error.
	if _, err := shift(Op{Op: "remove", Path: "/items/0"}, 0, -1); err == nil {
		t.Fatalf("expected underflow error when shifting index 0 down")
	}
}

func TestConvergence(t *testing.T) {
	// Both clients start with the same base array and apply their own op
	// locally, then the peer's transformed op. The results must converge.
	base := []string{"a", "b", "c"}

	local := Op{Op: "add", Path: "/2", Value: "L"}
	remote := Op{Op: "add", Path: "/5", Value: "R"}

	newLocal, newRemote, err := Transform(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Client A: applies local, then transformed remote.
	a := applyAdd(applyAdd(clone(base), local), newRemote)
	// Client B: applies remote, then transformed local.
	b := applyAdd(applyAdd(clone(base), remote), newLocal)

	if !equalStrings(a, b) {
		t.Fatalf("convergence failure: A=%v B=%v", a, b)
	}
}

func TestTransformList(t *testing.T) {
	local := []Op{{Op: "add", Path: "/items/2", Value: "L"}}
	remote := []Op{{Op: "add", Path: "/items/5", Value: "R"}}

	newLocal, newRemote, err := TransformList(local, remote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(newLocal) != 1 || newLocal[0].Path != "/items/2" {
		t.Fatalf("expected local unchanged, got %+v", newLocal)
	}
	if len(newRemote) != 1 || newRemote[0].Path != "/items/6" {
		t.Fatalf("expected remote shifted to /items/6, got %+v", newRemote)
	}
}

// --- test helpers: a toy array-add applier, only for the convergence test ---

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func applyAdd(arr []string, op Op) []string {
	idx, ok := indexOf(op.Path)
	if !ok {
		return arr
	}
	v, _ := op.Value.(string)
	if idx > len(arr) {
		idx = len(arr)
	}
	out := make([]string, 0, len(arr)+1)
	out = append(out, arr[:idx]...)
	out = append(out, v)
	out = append(out, arr[idx:]...)
	return out
}

func indexOf(path string) (int, bool) {
	n := 0
	if len(path) < 2 || path[0] != '/' {
		return 0, false
	}
	for _, r := range path[1:] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
