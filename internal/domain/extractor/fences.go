package extractor

import "strings"

// fence is one fenced code block.
type fence struct {
	Lang string
	// Info is whatever followed the language on the opening line.
	Info string
	Body string
	// Start is the byte offset of the opening fence line.
	Start int
	// Preceding is the last non-blank line before the opening fence.
	Preceding string
}

// fences splits text into fenced blocks. An unclosed block runs to the end of
// the text, since truncated output is common.
func fences(text string) []fence {
	var (
		out      []fence
		cur      *fence
		body     strings.Builder
		lastLine string
		offset   int
	)
	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		lineStart := offset
		offset += len(line)
		trimmed := strings.TrimSpace(line)

		if cur == nil {
			if strings.HasPrefix(trimmed, "```") {
				lang, info := splitInfo(strings.TrimPrefix(trimmed, "```"))
				cur = &fence{
					Lang:      lang,
					Info:      info,
					Start:     lineStart,
					Preceding: lastLine,
				}
				body.Reset()
				continue
			}
			if trimmed != "" {
				lastLine = trimmed
			}
			continue
		}

		if trimmed == "```" {
			cur.Body = strings.TrimRight(body.String(), "\n")
			out = append(out, *cur)
			cur = nil
			lastLine = ""
			continue
		}
		body.WriteString(line)
	}
	if cur != nil {
		cur.Body = strings.TrimRight(body.String(), "\n")
		out = append(out, *cur)
	}
	return out
}

// firstLine splits a body into its first line and the rest.
func firstLine(body string) (string, string) {
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		return body[:i], body[i+1:]
	}
	return body, ""
}

// splitInfo separates "jsx:src/App.jsx" or "html index.html" into the
// language tag and the remainder.
func splitInfo(info string) (string, string) {
	info = strings.TrimSpace(info)
	i := strings.IndexAny(info, ": \t")
	if i < 0 {
		return strings.ToLower(info), ""
	}
	return strings.ToLower(info[:i]), strings.TrimSpace(info[i+1:])
}
