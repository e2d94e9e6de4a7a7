package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// LegacyEndMarker is the completion marker older prompt formats asked for.
const LegacyEndMarker = "### End"

// safetyStopMarkers end generation regardless of template. They cover the
// end-of-turn tokens of common template families, rendered as text.
var safetyStopMarkers = []string{
	"<|endoftext|>",
	"<end_of_turn>",
	"<|im_end|>",
	"<|eot_id|>",
	"<|end|>",
}

// stopMatcher finds the first terminating marker in generated text. Groups
// are tested in priority order: legacy marker, stop markers, echo markers.
type stopMatcher struct {
	groups [][]string
	maxLen int
}

func newStopMatcher(stops, echoes []string) *stopMatcher {
	m := &stopMatcher{
		groups: [][]string{{LegacyEndMarker}, dedupe(stops), dedupe(echoes)},
	}
	for _, g := range m.groups {
		for _, s := range g {
			m.maxLen = max(m.maxLen, len(s))
		}
	}
	return m
}

// Marker groups in priority order.
const (
	groupLegacy = iota
	groupStop
	groupEcho
)

// find returns the offset of the earliest marker occurrence at or after
// from, and the group it belongs to. On equal offsets the higher priority
// group wins.
func (m *stopMatcher) find(text string, from int) (idx, group int, ok bool) {
	idx = -1
	for gi, g := range m.groups {
		for _, s := range g {
			if i := strings.Index(text[from:], s); i >= 0 && (idx < 0 || from+i < idx) {
				idx, group = from+i, gi
			}
		}
	}
	return idx, group, idx >= 0
}

// heldSuffix returns the length of the longest suffix of text (after from)
// that is a proper prefix of some marker and may still complete into it.
func (m *stopMatcher) heldSuffix(text string, from int) int {
	limit := min(len(text)-from, m.maxLen-1)
	for k := limit; k > 0; k-- {
		tail := text[len(text)-k:]
		for _, g := range m.groups {
			for _, s := range g {
				if len(s) > k && strings.HasPrefix(s, tail) {
					return k
				}
			}
		}
	}
	return 0
}

// fragmentStreamer accumulates generated pieces and forwards to emit every
// byte that can no longer become part of a stop marker.
type fragmentStreamer struct {
	matcher *stopMatcher
	emit    func(string)

	buf strings.Builder
	// flushed counts consumed bytes: emitted text plus any leading
	// whitespace dropped before the first fragment.
	flushed int
	started bool
	out     strings.Builder
}

func newFragmentStreamer(m *stopMatcher, emit func(string)) *fragmentStreamer {
	return &fragmentStreamer{matcher: m, emit: emit}
}

// push appends a piece. It reports whether a marker matched, and which
// group; the text before the marker has then been flushed and the rest
// discarded.
func (s *fragmentStreamer) push(piece string) (group int, matched bool) {
	prevLen := s.buf.Len()
	s.buf.WriteString(piece)
	text := s.buf.String()

	from := max(s.flushed, prevLen-s.matcher.maxLen+1)
	if idx, g, ok := s.matcher.find(text, from); ok {
		s.send(text[s.flushed:max(idx, s.flushed)])
		return g, true
	}

	end := len(text) - s.matcher.heldSuffix(text, s.flushed)
	end = s.flushed + completeUTF8(text[s.flushed:end])
	s.send(text[s.flushed:end])
	return 0, false
}

// flush emits any held-back text. Used on every exit that is not a marker match.
func (s *fragmentStreamer) flush() {
	text := s.buf.String()
	if s.flushed < len(text) {
		s.send(text[s.flushed:])
	}
}

// send consumes frag. Leading whitespace is dropped until the first
// non-blank byte goes out; it is only trimmed here, after marker matching
// has seen it.
func (s *fragmentStreamer) send(frag string) {
	s.flushed += len(frag)
	if !s.started {
		frag = frag[leadingSpace(frag):]
	}
	if frag == "" {
		return
	}
	s.started = true
	s.out.WriteString(frag)
	s.emit(frag)
}

// text returns everything delivered so far.
func (s *fragmentStreamer) text() string { return s.out.String() }

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

// completeUTF8 returns the length of the longest prefix of s that does not
// end in a truncated multi-byte sequence.
func completeUTF8(s string) int {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if utf8.FullRuneInString(s[i:]) {
				return len(s)
			}
			return i
		}
	}
	return len(s)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
