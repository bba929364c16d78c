// Package rawsubject repairs a known upstream relay fault where an entire raw
// message (headers, blank line, body) is delivered inside the subject field of
// an otherwise empty email.
package rawsubject

import (
	"regexp"
	"strings"
)

// DefaultSubject is used when no subject can be recovered at all.
const DefaultSubject = "(no subject)"

const (
	maxSubjectRunes     = 255
	truncatedSubjectLen = 252
	promotionLimit      = 200
	fromLookAheadLines  = 3
)

// Signal identifies one detection heuristic. Any single firing signal marks
// the subject as a misdelivered raw message.
type Signal string

const (
	SignalNewlineThenHeader Signal = "newline_then_header"
	SignalLeadingHeader     Signal = "leading_header"
	SignalDoubleBlankLine   Signal = "double_blank_line"
	SignalHeaderTokenCount  Signal = "header_token_count"
)

var (
	newlineThenHeaderRe = regexp.MustCompile(`\n(?:From|To|Subject):`)
	leadingHeaderRe     = regexp.MustCompile(`^(?:From|To):`)
	headerLineRe        = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*):[ \t]?(.*)$`)
	bracketAddrRe       = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>`)
	bareAddrRe          = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	fromLineRe          = regexp.MustCompile(`^From:\s*(.+)$`)
)

var headerTokens = []string{"From:", "To:", "Subject:", "Date:", "Message-ID:"}

// policy enumerates the detection signals so each stays independently testable.
var policy = []struct {
	signal Signal
	match  func(normalized string) bool
}{
	{SignalNewlineThenHeader, func(s string) bool { return newlineThenHeaderRe.MatchString(s) }},
	{SignalLeadingHeader, func(s string) bool { return leadingHeaderRe.MatchString(s) }},
	{SignalDoubleBlankLine, func(s string) bool { return strings.Contains(s, "\n\n") }},
	{SignalHeaderTokenCount, func(s string) bool { return countHeaderTokens(s) >= 2 }},
}

// Detect reports whether the subject looks like a misdelivered raw message,
// along with every signal that fired.
func Detect(subject string) (bool, []Signal) {
	normalized := normalizeNewlines(subject)
	var fired []Signal
	for _, p := range policy {
		if p.match(normalized) {
			fired = append(fired, p.signal)
		}
	}
	return len(fired) > 0, fired
}

// Extracted is the repaired message pulled out of a raw subject block.
type Extracted struct {
	Subject string
	Body    string
	From    string
}

// Extract parses the raw block: a header scan, then body accumulation, then
// subject and sender recovery.
func Extract(raw string) Extracted {
	normalized := normalizeNewlines(raw)
	lines := strings.Split(normalized, "\n")

	headers := make(map[string]string)
	bodyStart := len(lines)
	firstLineSubject := ""

scan:
	for i, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			bodyStart = i + 1
			break scan
		default:
			if m := headerLineRe.FindStringSubmatch(line); m != nil {
				headers[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
				bodyStart = i + 1
				continue
			}
			// A non-header line before any recognized header is the subject
			// itself; the body begins right after it.
			if len(headers) == 0 {
				firstLineSubject = line
				bodyStart = i + 1
			} else {
				bodyStart = i
			}
			break scan
		}
	}

	subject := strings.TrimSpace(headers["subject"])
	if subject == "" {
		subject = strings.TrimSpace(firstLineSubject)
	}

	from := headers["from"]
	if from == "" {
		from = lookAheadFrom(lines, bodyStart)
	}

	body := strings.Join(lines[min(bodyStart, len(lines)):], "\n")
	subject, body = finishSubject(subject, body)

	return Extracted{
		Subject: subject,
		Body:    strings.Trim(body, "\n"),
		From:    ExtractAddress(from),
	}
}

// finishSubject applies the recovery order: trim, promote the body's first
// line when the subject is empty, truncate, then fall back to the default.
func finishSubject(subject, body string) (string, string) {
	subject = strings.TrimSpace(subject)

	if subject == "" && strings.TrimSpace(body) != "" {
		trimmed := strings.TrimLeft(body, "\n")
		firstLine, rest, _ := strings.Cut(trimmed, "\n")
		if line := strings.TrimSpace(firstLine); line != "" && len([]rune(line)) < promotionLimit {
			subject = line
			body = rest
		}
	}

	subject = TruncateSubject(subject)

	if subject == "" {
		subject = DefaultSubject
	}
	return subject, body
}

// TruncateSubject enforces the 255-character subject ceiling, ending
// over-long subjects with an ellipsis.
func TruncateSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) <= maxSubjectRunes {
		return subject
	}
	return string(runes[:truncatedSubjectLen]) + "..."
}

// lookAheadFrom scans a few lines past the recovered subject for a reshuffled
// From: header.
func lookAheadFrom(lines []string, start int) string {
	end := min(start+fromLookAheadLines, len(lines))
	for i := start; i < end; i++ {
		if m := fromLineRe.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractAddress pulls a sender address out of a header value: the bracketed
// form first, then a bare address, then the raw value as a last resort.
func ExtractAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if m := bracketAddrRe.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	if m := bareAddrRe.FindString(header); m != "" {
		return m
	}
	return header
}

// normalizeNewlines folds every newline variant, including the escaped text
// forms some relays emit, into a single line-feed form.
func normalizeNewlines(s string) string {
	replacer := strings.NewReplacer(
		"\r\n", "\n",
		"\r", "\n",
		`\r\n`, "\n",
		`\n`, "\n",
	)
	return replacer.Replace(s)
}

func countHeaderTokens(s string) int {
	count := 0
	for _, token := range headerTokens {
		if strings.Contains(s, token) {
			count++
		}
	}
	return count
}
