// Package scanner classifies a streamed model response into hidden preamble,
// visible content and embedded payload while fragments are still arriving.
// Pure domain logic: no I/O, one Scanner per response.
package scanner

import (
	"strings"
	"unicode"
)

// Mode is the scanner state.
type Mode int

const (
	AwaitingPreambleDecision Mode = iota
	InPreamble
	Visible
	InEmbeddedPayload
)

func (m Mode) String() string {
	switch m {
	case AwaitingPreambleDecision:
		return "awaiting_preamble_decision"
	case InPreamble:
		return "in_preamble"
	case Visible:
		return "visible"
	case InEmbeddedPayload:
		return "in_embedded_payload"
	default:
		return "unknown"
	}
}

// Config holds the markers the scanner reacts to.
type Config struct {
	PreambleBegin string
	PreambleEnd   string
	// PayloadMarkers start an embedded payload; everything from the first
	// occurrence to end of stream is hidden.
	PayloadMarkers []string
	// EmptyFallback is shown when an unclosed preamble leaves nothing else.
	EmptyFallback string
}

// DefaultConfig returns the markers used by the EDEN prompts.
func DefaultConfig() Config {
	return Config{
		PreambleBegin:  "<think>",
		PreambleEnd:    "</think>",
		PayloadMarkers: []string{"```json", `"deliverable_ready"`, `"deliverable_title"`},
		EmptyFallback:  "No pude completar la respuesta. ¿Puedes intentarlo de nuevo?",
	}
}

// Output is what one Feed call decided.
type Output struct {
	// Text is newly visible content, in stream order.
	Text string
	// EnteredPreamble is set on the call that detected the begin marker.
	EnteredPreamble bool
	// PayloadStarted is set on the call that detected a payload marker. Text
	// then holds only what preceded the marker.
	PayloadStarted bool
}

// FinalState is the scanner's view once the stream has ended.
type FinalState struct {
	// Text is the visible content flushed by Finalize itself.
	Text string
	// Raw is every byte fed, hidden spans included.
	Raw string
	// Visible is the full visible output, Feed and Finalize combined.
	Visible string
	// Mode is the state the stream ended in, before the final flush.
	Mode Mode
	// PayloadOffset is the byte offset of the payload marker in Raw, or -1.
	PayloadOffset int
}

// Scanner is the single-owner state of one response.
type Scanner struct {
	cfg Config

	raw     strings.Builder
	visible strings.Builder
	mode    Mode

	preambleStart   int
	preambleScanned int
	emitted         int
	skipLeading     bool
	payloadAt       int

	final *FinalState
}

// New creates a scanner in AwaitingPreambleDecision.
func New(cfg Config) *Scanner {
	s := &Scanner{cfg: cfg, payloadAt: -1}
	if cfg.PreambleBegin == "" {
		s.mode = Visible
	}
	return s
}

// Mode returns the current state.
func (s *Scanner) Mode() Mode { return s.mode }

// Feed consumes one inbound fragment.
func (s *Scanner) Feed(fragment string) Output {
	var out Output
	if s.final != nil || fragment == "" {
		return out
	}
	s.raw.WriteString(fragment)

	if s.mode == AwaitingPreambleDecision {
		s.decidePreamble(&out)
	}
	if s.mode == InPreamble {
		s.scanPreamble()
	}
	if s.mode == Visible {
		s.scanVisible(&out)
	}
	return out
}

// decidePreamble holds text back while it could still be the begin marker.
func (s *Scanner) decidePreamble(out *Output) {
	raw := s.raw.String()
	trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
	if trimmed == "" {
		return
	}
	begin := s.cfg.PreambleBegin
	switch {
	case strings.HasPrefix(trimmed, begin):
		s.mode = InPreamble
		s.preambleStart = len(raw) - len(trimmed) + len(begin)
		s.preambleScanned = s.preambleStart
		out.EnteredPreamble = true
	case strings.HasPrefix(begin, trimmed):
		// Still a proper prefix of the marker.
	default:
		s.mode = Visible
		s.emitted = 0
	}
}

func (s *Scanner) scanPreamble() {
	raw := s.raw.String()
	end := s.cfg.PreambleEnd
	from := s.preambleScanned - len(end) + 1
	if from < s.preambleStart {
		from = s.preambleStart
	}
	idx := strings.Index(raw[from:], end)
	if idx < 0 {
		s.preambleScanned = len(raw)
		return
	}
	s.mode = Visible
	s.emitted = from + idx + len(end)
	s.skipLeading = true
}

func (s *Scanner) scanVisible(out *Output) {
	raw := s.raw.String()
	if s.skipLeading {
		rest := raw[s.emitted:]
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		s.emitted += len(rest) - len(trimmed)
		if trimmed == "" {
			return
		}
		s.skipLeading = false
	}

	pending := raw[s.emitted:]
	if at := s.cfg.PayloadIndex(pending); at >= 0 {
		s.emit(out, pending[:at])
		s.payloadAt = s.emitted
		s.mode = InEmbeddedPayload
		out.PayloadStarted = true
		return
	}
	hold := partialSuffix(pending, s.cfg.PayloadMarkers)
	s.emit(out, pending[:len(pending)-hold])
}

func (s *Scanner) emit(out *Output, text string) {
	s.emitted += len(text)
	if text == "" {
		return
	}
	out.Text += text
	s.visible.WriteString(text)
}

// Finalize flushes whatever the end of stream resolves and freezes the
// scanner. Calling it again returns the same state.
func (s *Scanner) Finalize() FinalState {
	if s.final != nil {
		return *s.final
	}
	raw := s.raw.String()
	endMode := s.mode
	var flush string

	switch s.mode {
	case AwaitingPreambleDecision:
		flush = raw
	case InPreamble:
		body := raw[s.preambleStart:]
		body = body[:len(body)-partialSuffix(body, []string{s.cfg.PreambleEnd})]
		if at := s.cfg.PayloadIndex(body); at >= 0 {
			body = body[:at]
		}
		body = strings.TrimSpace(body)
		if body == "" {
			body = s.cfg.EmptyFallback
		}
		flush = body
	case Visible:
		if !s.skipLeading {
			flush = raw[s.emitted:]
		}
	}
	s.visible.WriteString(flush)

	s.final = &FinalState{
		Text:          flush,
		Raw:           raw,
		Visible:       s.visible.String(),
		Mode:          endMode,
		PayloadOffset: s.payloadAt,
	}
	return *s.final
}

// PayloadIndex returns the offset of the earliest payload marker in text,
// or -1.
func (c Config) PayloadIndex(text string) int {
	best := -1
	for _, m := range c.PayloadMarkers {
		if m == "" {
			continue
		}
		if i := strings.Index(text, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// StripPreamble removes a leading preamble span from a complete text.
// An unclosed preamble loses only its begin marker.
func (c Config) StripPreamble(text string) string {
	if c.PreambleBegin == "" {
		return text
	}
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, c.PreambleBegin) {
		return text
	}
	rest := trimmed[len(c.PreambleBegin):]
	if idx := strings.Index(rest, c.PreambleEnd); idx >= 0 {
		return strings.TrimLeftFunc(rest[idx+len(c.PreambleEnd):], unicode.IsSpace)
	}
	return strings.TrimSpace(rest)
}

// partialSuffix returns the length of the longest suffix of text that is a
// proper prefix of one of the markers.
func partialSuffix(text string, markers []string) int {
	longest := 0
	for _, m := range markers {
		n := len(m) - 1
		if n > len(text) {
			n = len(text)
		}
		for k := n; k > longest; k-- {
			if strings.HasSuffix(text, m[:k]) {
				longest = k
				break
			}
		}
	}
	return longest
}
