package loom

import (
	"reflect"
	"testing"
)

func TestRunContextMergeExtendsCollections(t *testing.T) {
	rc := NewRunContext("hi")
	rc.Merge(map[string]any{
		KeyContextSnippets: []any{"a"},
		KeyDocs:            []any{"d1"},
	})
	rc.Merge(map[string]any{
		KeyContextSnippets: []any{"b", "c"},
		KeyDocs:            []any{"d2"},
	})

	snippets := toList(rc.Get(KeyContextSnippets))
	if !reflect.DeepEqual(snippets, []any{"a", "b", "c"}) {
		t.Errorf("context_snippets = %v, want [a b c]", snippets)
	}
	docs := toList(rc.Get(KeyDocs))
	if len(docs) != 2 {
		t.Errorf("docs = %v, want 2 entries", docs)
	}
}

func TestRunContextMergeImagesIntoToolOutputs(t *testing.T) {
	rc := NewRunContext("hi")
	rc.Merge(map[string]any{
		"images": []any{map[string]any{"url": "http://x/1.png"}},
	})
	rc.Merge(map[string]any{
		"images":       []any{map[string]any{"url": "http://x/2.png"}},
		"calculations": []any{"2+2=4"},
	})

	outputs := rc.Get(KeyToolOutputs).(map[string]any)
	if got := len(toList(outputs["images"])); got != 2 {
		t.Errorf("tool_outputs.images = %d entries, want 2", got)
	}
	if got := len(toList(outputs["calculations"])); got != 1 {
		t.Errorf("tool_outputs.calculations = %d entries, want 1", got)
	}
	// Images must not leak into the top-level context.
	if rc.Get("images") != nil {
		t.Error("images stored at top level, want tool_outputs only")
	}
}

func TestRunContextMergeOverwritesScalars(t *testing.T) {
	rc := NewRunContext("hi")
	rc.Merge(map[string]any{KeyFinalAnswer: "first"})
	rc.Merge(map[string]any{KeyFinalAnswer: "second"})
	if got := rc.GetString(KeyFinalAnswer); got != "second" {
		t.Errorf("final_answer = %q, want %q", got, "second")
	}
}

func TestRunContextSnapshotIsolation(t *testing.T) {
	rc := NewRunContext("hi")
	snap := rc.Snapshot()
	rc.Set(KeyFinalAnswer, "later")
	if _, ok := snap[KeyFinalAnswer].(string); ok && snap[KeyFinalAnswer] == "later" {
		t.Error("snapshot observed a write made after it was taken")
	}
	snap["user_message"] = "mutated"
	if rc.GetString(KeyUserMessage) != "hi" {
		t.Error("mutating a snapshot changed the context")
	}
}

func TestToList(t *testing.T) {
	if got := toList(nil); got != nil {
		t.Errorf("toList(nil) = %v, want nil", got)
	}
	if got := toList([]string{"a", "b"}); len(got) != 2 {
		t.Errorf("toList([]string) = %v, want 2 entries", got)
	}
	if got := toList("single"); !reflect.DeepEqual(got, []any{"single"}) {
		t.Errorf("toList(scalar) = %v, want single-element list", got)
	}
}
