package patch

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeAndApply(t *testing.T) {
	raw := json.RawMessage(`[{"op":"replace","path":"/title","value":"T2"}]`)
	p, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	content := map[string]any{"title": "T"}
	out, err := Apply(content, p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["title"] != "T2" {
		t.Fatalf("unexpected result: %#v", out)
	}
}

func TestNormalizeRejectsUnknownOp(t *testing.T) {
	raw := json.RawMessage(`[{"op":"frobnicate","path":"/x"}]`)
	if _, err := Normalize(raw); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}

func TestApplyLeavesOriginalUntouchedOnFailure(t *testing.T) {
	raw := json.RawMessage(`[{"op":"replace","path":"/missing","value":"x"}]`)
	p, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	content := map[string]any{"title": "T"}
	before := map[string]any{"title": "T"}

	if _, err := Apply(content, p); err == nil {
		t.Fatalf("expected apply error for missing path")
	}
	if !reflect.DeepEqual(content, before) {
		t.Fatalf("original content mutated: %#v", content)
	}
}

func TestDiffRoundTrip(t *testing.T) {
	oldContent := map[string]any{"title": "T"}
	raw := json.RawMessage(`[{"op":"replace","path":"/title","value":"T2"}]`)
	p, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	newContent, err := Apply(oldContent, p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	reverse, err := Diff(newContent, oldContent)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	restored, err := Apply(newContent, reverse)
	if err != nil {
		t.Fatalf("apply reverse: %v", err)
	}
	if !reflect.DeepEqual(restored, oldContent) {
		t.Fatalf("inverse patch did not restore original: got %#v want %#v", restored, oldContent)
	}
}

func TestMarshalRawNil(t *testing.T) {
	b, err := MarshalRaw(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("expected null, got %s", b)
	}
}
