package session

import (
	"strings"
	"testing"
)

func TestStopMatcher_Find(t *testing.T) {
	m := newStopMatcher([]string{"<|im_end|>", "\nUser:"}, []string{"You are a plain-language editor"})

	tests := []struct {
		name      string
		text      string
		wantIdx   int
		wantGroup int
		wantOK    bool
	}{
		{"no marker", "plain text", -1, 0, false},
		{"stop marker", "done<|im_end|>", 4, groupStop, true},
		{"legacy marker", "done\n### End", 5, groupLegacy, true},
		{"echo marker", "ok You are a plain-language editor", 3, groupEcho, true},
		{"earliest wins over priority", "x<|im_end|> ### End", 1, groupStop, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, group, ok := m.find(tt.text, 0)
			if ok != tt.wantOK || (ok && (idx != tt.wantIdx || group != tt.wantGroup)) {
				t.Errorf("find(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tt.text, idx, group, ok, tt.wantIdx, tt.wantGroup, tt.wantOK)
			}
		})
	}
}

func TestStopMatcher_TieGoesToHigherPriority(t *testing.T) {
	m := newStopMatcher([]string{"###"}, nil)
	_, group, ok := m.find("a### End", 0)
	if !ok || group != groupLegacy {
		t.Errorf("group = %d, want legacy", group)
	}
}

func TestStopMatcher_HeldSuffix(t *testing.T) {
	m := newStopMatcher([]string{"<|im_end|>"}, nil)

	tests := []struct {
		text string
		want int
	}{
		{"hello", 0},
		{"hello<", 1},
		{"hello<|im", 4},
		{"hello##", 2},
		{"<|im_end|", 9},
	}
	for _, tt := range tests {
		if got := m.heldSuffix(tt.text, 0); got != tt.want {
			t.Errorf("heldSuffix(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestFragmentStreamer(t *testing.T) {
	tests := []struct {
		name        string
		pieces      []string
		want        string
		wantMatched bool
	}{
		{"passes text through", []string{"a", "b", "c"}, "abc", false},
		{"marker in one piece", []string{"one", " two<|im_end|>three"}, "one two", true},
		{"marker split across pieces", []string{"one<", "|im_", "end|>"}, "one", true},
		{"false alarm is released", []string{"a<", "b"}, "a<b", false},
		{"leading whitespace dropped", []string{" \n", "  x"}, "x", false},
		{"marker at start", []string{"<|im_end|>tail"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var emitted []string
			s := newFragmentStreamer(newStopMatcher([]string{"<|im_end|>"}, nil), func(f string) {
				emitted = append(emitted, f)
			})

			matched := false
			for _, p := range tt.pieces {
				if _, matched = s.push(p); matched {
					break
				}
			}
			if !matched {
				s.flush()
			}

			if matched != tt.wantMatched {
				t.Errorf("matched = %v, want %v", matched, tt.wantMatched)
			}
			if got := strings.Join(emitted, ""); got != tt.want {
				t.Errorf("emitted %q, want %q", got, tt.want)
			}
			if s.text() != tt.want {
				t.Errorf("text() = %q, want %q", s.text(), tt.want)
			}
			for _, f := range emitted {
				if f == "" {
					t.Error("empty fragment emitted")
				}
			}
		})
	}
}

func TestFragmentStreamer_FlushReleasesHeldText(t *testing.T) {
	var out strings.Builder
	s := newFragmentStreamer(newStopMatcher([]string{"<|im_end|>"}, nil), func(f string) { out.WriteString(f) })

	s.push("answer<|im")
	if out.String() != "answer" {
		t.Fatalf("before flush = %q, want %q", out.String(), "answer")
	}
	s.flush()
	if out.String() != "answer<|im" {
		t.Errorf("after flush = %q", out.String())
	}
}

func TestCompleteUTF8(t *testing.T) {
	e := "é" // 2 bytes
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"ab" + e, 2 + len(e)},
		{"ab" + e[:1], 2},
	}
	for _, tt := range tests {
		if got := completeUTF8(tt.in); got != tt.want {
			t.Errorf("completeUTF8(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFragmentStreamer_MarkerAfterLeadingWhitespace(t *testing.T) {
	tests := []struct {
		name   string
		pieces []string
	}{
		{"split", []string{"\n", "User:", " next"}},
		{"one piece", []string{"\nUser: next"}},
		{"after blanks", []string{"  ", "\nUs", "er:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			s := newFragmentStreamer(newStopMatcher([]string{"\nUser:"}, nil), func(f string) { out.WriteString(f) })

			matched := false
			for _, p := range tt.pieces {
				if _, matched = s.push(p); matched {
					break
				}
			}
			if !matched {
				t.Fatal("marker after leading whitespace was not matched")
			}
			if out.String() != "" {
				t.Errorf("emitted %q, want nothing", out.String())
			}
		})
	}
}
