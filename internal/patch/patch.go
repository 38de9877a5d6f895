// Package patch normalizes the wire representation of an RFC 6902 JSON
// Patch into the form expected by the jsonpatch library, applies it to a
// document, and computes the inverse patch needed for the change log.
package patch

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/agentflare-ai/jsonpatch"
)

// Patch is re-exported so callers outside this package never need to import
// the underlying library directly.
type Patch = jsonpatch.Patch

// Normalize decodes the on-wire patch (a JSON array of objects keyed by
// "op"/"path"/"value"/"from", exactly RFC 6902) into the library's
// internal Patch/Operation representation. The library's JSON tags already
// match the wire keys, so this is a direct unmarshal; any keys the client
// sends beyond op/path/value/from are not meaningful to application and are
// dropped rather than rejected.
func Normalize(raw json.RawMessage) (Patch, error) {
	var p jsonpatch.Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("patch: normalize: %w", err)
	}
	for _, op := range p {
		switch op.Op {
		case jsonpatch.Add, jsonpatch.Remove, jsonpatch.Replace, jsonpatch.Move, jsonpatch.Copy, jsonpatch.Test:
		default:
			return nil, fmt.Errorf("patch: normalize: unknown op %q", op.Op)
		}
	}
	return p, nil
}

// Apply evaluates the patch against content and returns the resulting
// document. On any failure the original content is left untouched (Apply
// operates on a deep copy internally) and an error is returned.
func Apply(content any, p Patch) (any, error) {
	out, err := jsonpatch.Apply(content, p)
	if err != nil {
		return nil, fmt.Errorf("patch: apply: %w", err)
	}
	return out, nil
}

// Diff computes the patch that transforms "from" into "to" — used both to
// build the reverse_patch stored alongside a committed update
// (Diff(newContent, oldContent)) and, more generally, anywhere two JSON
// documents need to be reconciled into a patch.
func Diff(from, to any) (Patch, error) {
	p, err := jsonpatch.New(from, to)
	if err != nil {
		return nil, fmt.Errorf("patch: diff: %w", err)
	}
	return p, nil
}

// MarshalRaw re-encodes a Patch back to its wire JSON representation, e.g.
// for storing forward_patch/reverse_patch in the change log.
func MarshalRaw(p Patch) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("patch: marshal: %w", err)
	}
	return json.RawMessage(b), nil
}
