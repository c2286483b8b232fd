package voice

import (
	"strings"
	"testing"
)

func TestSplitterCutsOnTerminalPunctuation(t *testing.T) {
	s := newSentenceSplitter(240)

	var out []string
	for _, token := range []string{"Hello ", "there.", " How are", " you? ", "Good"} {
		out = append(out, s.Push(token)...)
	}
	out = append(out, s.Finalize()...)

	want := []string{"Hello there.", "How are you?", "Good"}
	if len(out) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(out), out, len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sentence[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestSplitterSwallowsPunctuationRuns(t *testing.T) {
	s := newSentenceSplitter(240)
	out := s.Push("Really?! Yes.")
	if len(out) != 2 {
		t.Fatalf("got %v, want 2 sentences", out)
	}
	if out[0] != "Really?!" {
		t.Fatalf("sentence[0] = %q, want %q", out[0], "Really?!")
	}
}

func TestSplitterLengthCap(t *testing.T) {
	s := newSentenceSplitter(40)
	long := strings.Repeat("word ", 20) // 100 chars, no punctuation
	out := s.Push(long)
	out = append(out, s.Finalize()...)

	if len(out) < 2 {
		t.Fatalf("length cap should split, got %v", out)
	}
	for _, sentence := range out {
		if len(sentence) > 40 {
			t.Fatalf("sentence exceeds cap: %q (%d chars)", sentence, len(sentence))
		}
	}
	if got := strings.Join(out, " "); got != strings.TrimSpace(long) {
		t.Fatalf("reassembled = %q, want %q", got, strings.TrimSpace(long))
	}
}

func TestSplitterFinalizeEmpty(t *testing.T) {
	s := newSentenceSplitter(240)
	s.Push("Done.")
	if out := s.Finalize(); len(out) != 0 {
		t.Fatalf("Finalize() after clean cut = %v, want empty", out)
	}
}
