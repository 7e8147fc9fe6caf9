package abortmem

import "testing"

func TestIsStopPhraseRecognizesMultipleLanguages(t *testing.T) {
	cases := []string{
		"stop", "Stop now", "please stop",
		"stopp", "para ya", "alto",
		"arrête ça", "停止", "止めて",
		"रुको", "توقف", "стоп", "pare",
	}
	for _, c := range cases {
		if !IsStopPhrase(c) {
			t.Errorf("IsStopPhrase(%q) = false, want true", c)
		}
	}
}

func TestIsStopPhraseRejectsOrdinaryText(t *testing.T) {
	cases := []string{"hello", "what's the weather", "stopwatch", ""}
	for _, c := range cases {
		if IsStopPhrase(c) {
			t.Errorf("IsStopPhrase(%q) = true, want false", c)
		}
	}
}

func TestAbortCascadesToChildren(t *testing.T) {
	tree := map[string][]string{
		"agent:a1:dm:1":                 {"agent:a1:subagent:research"},
		"agent:a1:subagent:research":    {"agent:a1:subagent:research:sub"},
		"agent:a1:subagent:research:sub": nil,
	}
	m := New(func(parent string) []string { return tree[parent] })
	m.Abort("agent:a1:dm:1")

	for key := range tree {
		if !m.IsAborted(key) {
			t.Errorf("expected %q to be aborted via cascade", key)
		}
	}
}

func TestAbortMemoryCapEvictsOldest(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxEntries+10; i++ {
		m.Abort(keyFor(i))
	}
	if m.Len() != MaxEntries {
		t.Fatalf("Len() = %d, want %d", m.Len(), MaxEntries)
	}
	if m.IsAborted(keyFor(0)) {
		t.Fatalf("expected oldest entry to have been evicted")
	}
	if !m.IsAborted(keyFor(MaxEntries + 9)) {
		t.Fatalf("expected newest entry to still be present")
	}
}

func TestClearRemovesRecord(t *testing.T) {
	m := New(nil)
	m.Abort("agent:a1:dm:1")
	m.Clear("agent:a1:dm:1")
	if m.IsAborted("agent:a1:dm:1") {
		t.Fatalf("expected record cleared")
	}
}

func keyFor(i int) string {
	return "agent:a1:dm:" + string(rune('a'+i%26)) + string(rune(i))
}
