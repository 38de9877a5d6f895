// Package ot implements operational transformation over RFC 6902 JSON Patch
// operations: rewriting the index references in two concurrent array edits
// so that applying either side's transformed stream after the peer's
// original stream converges to the same document.
package ot

import (
	"fmt"

	"github.com/Ap3pp3rs94/docsync/internal/pathx"
)

// Op mirrors the on-wire JSON Patch operation shape (see internal/patch),
// kept separate here so the transformer has no dependency on the patch
// library's types.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

// Transform is the pairwise transform T(local, remote) -> (local', remote').
// Both inputs are returned unchanged except where the reconciliation rules
// below apply.
func Transform(local, remote Op) (Op, Op, error) {
	switch {
	case local.Op == "add" && remote.Op == "add":
		return reconcileAddAdd(local, remote)
	case local.Op == "remove" && remote.Op == "remove":
		return reconcileRemoveRemove(local, remote)
	case local.Op == "add" && remote.Op == "remove":
		return reconcileAddRemove(local, remote)
	case local.Op == "remove" && remote.Op == "add":
		r, l, err := reconcileAddRemove(remote, local)
		return l, r, err
	default:
		// replace/replace, test/*, move/*, copy/*, and anything else: pass
		// through. Same-path replace/replace conflicts are surfaced to the
		// caller unchanged, per spec.
		return local, remote, nil
	}
}

// sameArrayParent reports whether both ops target an array element under
// the same parent path, which is the precondition for index reconciliation.
func sameArrayParent(a, b Op) (aIdx, bIdx int, ok bool) {
	aIdx, aOK := pathx.ExtractLastArrayIndex(a.Path)
	bIdx, bOK := pathx.ExtractLastArrayIndex(b.Path)
	if !aOK || !bOK {
		return 0, 0, false
	}
	aParent, aHas := pathx.Parent(a.Path)
	bParent, bHas := pathx.Parent(b.Path)
	if !aHas || !bHas || aParent != bParent {
		return 0, 0, false
	}
	return aIdx, bIdx, true
}

func reconcileAddAdd(local, remote Op) (Op, Op, error) {
	li, ri, ok := sameArrayParent(local, remote)
	if !ok {
		return local, remote, nil
	}
	if li <= ri {
		newRemote, err := shift(remote, ri, +1)
		return local, newRemote, err
	}
	newLocal, err := shift(local, li, +1)
	return newLocal, remote, err
}

func reconcileRemoveRemove(local, remote Op) (Op, Op, error) {
	li, ri, ok := sameArrayParent(local, remote)
	if !ok {
		return local, remote, nil
	}
	switch {
	case li < ri:
		newRemote, err := shift(remote, ri, -1)
		return local, newRemote, err
	case li > ri:
		newLocal, err := shift(local, li, -1)
		return newLocal, remote, err
	default:
		// Same index removed by both sides: conflict, return unchanged.
		return local, remote, nil
	}
}

// reconcileAddRemove implements the add/remove policy. Callers handling the
// remote-add/local-remove case should swap arguments and swap the result.
func reconcileAddRemove(add, remove Op) (Op, Op, error) {
	ai, ri, ok := sameArrayParent(add, remove)
	if !ok {
		return add, remove, nil
	}
	if ai <= ri {
		newRemove, err := shift(remove, ri, +1)
		return add, newRemove, err
	}
	newAdd, err := shift(add, ai, -1)
	return newAdd, remove, err
}

func shift(op Op, target, delta int) (Op, error) {
	newPath, err := pathx.AdjustArrayIndex(op.Path, target, delta)
	if err != nil {
		return Op{}, fmt.Errorf("ot: %w", err)
	}
	op.Path = newPath
	return op, nil
}

// TransformList is the list transform T*(L, R) -> (L', R'): every op in L is
// transformed against every op in R in turn (and vice versa), threading the
// running transformed operation through each pairwise call. An error from
// any pairwise transform short-circuits the whole batch.
func TransformList(local, remote []Op) ([]Op, []Op, error) {
	newLocal, err := transformAgainstAll(local, remote)
	if err != nil {
		return nil, nil, err
	}
	newRemote, err := transformAgainstAll(remote, local)
	if err != nil {
		return nil, nil, err
	}
	return newLocal, newRemote, nil
}

// transformAgainstAll transforms every op in ops against every op in others,
// in order, returning the transformed ops (the others slice is not mutated
// or returned; TransformList calls this twice, once per direction).
func transformAgainstAll(ops, others []Op) ([]Op, error) {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		cur := op
		for _, other := range others {
			transformed, _, err := Transform(cur, other)
			if err != nil {
				return nil, err
			}
			cur = transformed
		}
		out = append(out, cur)
	}
	return out, nil
}
