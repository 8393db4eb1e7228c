// Package extractor pulls structured payloads out of complete model output.
// The rules are heuristic: the input is written by a language model, so
// strict parsing is tried first and regex recovery covers what it rejects.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
)

var (
	readyPattern   = regexp.MustCompile(`"deliverable_ready"\s*:\s*"?true"?`)
	objectOpenPatt = regexp.MustCompile(`\{\s*"deliverable_`)

	// Recovery patterns end a value at the first quote that is followed by
	// another deliverable key or by the closing brace, so unescaped quotes
	// inside the value survive. A closing brace only ends the last value when
	// it also ends its line, a fence or the text.
	titleRecovery   = regexp.MustCompile(`(?s)"deliverable_title"\s*:\s*"(.*?)"\s*(?:,\s*"deliverable_\w+"\s*:|\})`)
	contentRecovery = regexp.MustCompile(`(?s)"deliverable_content"\s*:\s*"(.*?)"\s*(?:,\s*"deliverable_\w+"\s*:|\}[ \t]*(?:` + "```" + `|\r?\n|$))`)
)

// maxStrictAttempts bounds how many closing braces are tried as the end of
// the object.
const maxStrictAttempts = 64

type rawDeliverable struct {
	Title   string `json:"deliverable_title"`
	Content string `json:"deliverable_content"`
	Ready   any    `json:"deliverable_ready"`
}

// Deliverable locates the embedded deliverable object in fullText.
// It returns nil when there is no ready marker, which is the normal case for
// turns that do not finish a phase, and nil when no title can be recovered.
func Deliverable(fullText string) *entities.DeliverablePayload {
	p, _ := DeliverableWithPath(fullText)
	return p
}

// Path reports which tier produced a deliverable.
type Path string

const (
	PathNone   Path = ""
	PathStrict Path = "strict"
	PathRegex  Path = "regex"
)

// DeliverableWithPath is Deliverable plus the tier that succeeded.
func DeliverableWithPath(fullText string) (*entities.DeliverablePayload, Path) {
	loc := readyPattern.FindStringIndex(fullText)
	if loc == nil {
		return nil, PathNone
	}
	start := objectStart(fullText, loc[0])
	if start < 0 {
		return recoverFields(fullText)
	}

	if p := strictParse(fullText, start, loc[1]); p != nil {
		return p, PathStrict
	}
	return recoverFields(fullText[start:])
}

// objectStart finds the brace opening the deliverable object.
func objectStart(text string, readyAt int) int {
	head := text[:readyAt]
	if all := objectOpenPatt.FindAllStringIndex(head, -1); len(all) > 0 {
		return all[len(all)-1][0]
	}
	return strings.LastIndex(head, "{")
}

func strictParse(text string, start, after int) *entities.DeliverablePayload {
	attempts := 0
	for i := after; i < len(text) && attempts < maxStrictAttempts; i++ {
		if text[i] != '}' {
			continue
		}
		attempts++
		var raw rawDeliverable
		if err := json.Unmarshal([]byte(text[start:i+1]), &raw); err != nil {
			continue
		}
		if strings.TrimSpace(raw.Title) == "" {
			return nil
		}
		return &entities.DeliverablePayload{
			Ready:   readyValue(raw.Ready),
			Title:   raw.Title,
			Content: raw.Content,
		}
	}
	return nil
}

func readyValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

// recoverFields pulls title and content independently. The marker matched, so the
// payload is ready regardless of what the object looks like.
func recoverFields(text string) (*entities.DeliverablePayload, Path) {
	m := titleRecovery.FindStringSubmatch(text)
	if m == nil {
		return nil, PathNone
	}
	title := strings.TrimSpace(unescape(m[1]))
	if title == "" {
		return nil, PathNone
	}
	var content string
	if c := contentRecovery.FindStringSubmatch(text); c != nil {
		content = unescape(c[1])
	}
	return &entities.DeliverablePayload{Ready: true, Title: title, Content: content}, PathRegex
}

// unescape resolves the JSON escapes a model typically writes.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
