// Package sanitize cleans email bodies before they become ticket
// descriptions. HTML keeps its layout (tables, spans, inline styles, images)
// while dangerous elements are removed wholesale; plain text is stripped of
// markup and normalized.
package sanitize

import (
	"html"
	"mime"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxBodyRunes       = 65535
	truncatedBodyLen   = 65532
	truncationEllipsis = "..."
)

var (
	htmlMarkers    = []string{"<html", "<body", "<div", "<p>"}
	spacesTabsRe   = regexp.MustCompile(`[ \t]+`)
	manyNewlinesRe = regexp.MustCompile(`\n{3,}`)
	leakedHeaderRe = regexp.MustCompile(`^(?:From|To|Subject|Date|Message-ID):`)
)

// Sanitizer holds the two content policies. Construct with New.
type Sanitizer struct {
	htmlPolicy  *bluemonday.Policy
	stripPolicy *bluemonday.Policy
	decoder     *mime.WordDecoder
}

// New builds a sanitizer with the layout-preserving HTML policy and the
// strip-everything plain policy.
func New() *Sanitizer {
	return &Sanitizer{
		htmlPolicy:  newHTMLPolicy(),
		stripPolicy: bluemonday.StrictPolicy(),
		decoder:     &mime.WordDecoder{},
	}
}

// newHTMLPolicy allows common layout markup and removes the dangerous
// denylist (script, iframe, object, embed, form, input, button) together with
// event-handler attributes and javascript: URLs.
func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements("b", "strong", "i", "em", "u", "s", "strike", "del", "small", "sub", "sup")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("p", "br", "hr", "div", "span", "center", "font")
	p.AllowElements("ul", "ol", "li", "dl", "dt", "dd")
	p.AllowElements("blockquote", "code", "pre")

	p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption", "colgroup", "col")
	p.AllowAttrs("colspan", "rowspan", "align", "valign", "width", "height",
		"border", "cellpadding", "cellspacing").OnElements("table", "tr", "td", "th", "col")

	p.AllowElements("img")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto", "cid", "data")

	p.AllowElements("a")
	p.AllowAttrs("href", "title").OnElements("a")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)

	// Inline styles carry the layout fidelity email clients depend on.
	p.AllowAttrs("style").Globally()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()

	// Drop the denylisted elements' contents too, not just their tags.
	p.SkipElementsContent("script", "iframe", "object", "embed", "form", "input", "button", "style")

	return p
}

// IsHTML reports whether the raw text appears to contain HTML markup.
func IsHTML(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range htmlMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Clean dispatches on content type and applies the shared post-processing.
func (s *Sanitizer) Clean(body string, isHTML bool) string {
	if isHTML {
		return s.HTML(body)
	}
	return s.PlainText(body)
}

// HTML sanitizes an HTML body while preserving layout. No whitespace
// collapsing is applied; formatting fidelity is intentional here.
// Entities are deliberately left encoded: unescaping after sanitization
// would turn inert text like &lt;script&gt; back into live markup.
func (s *Sanitizer) HTML(body string) string {
	cleaned := s.htmlPolicy.Sanitize(body)
	return finish(cleaned)
}

// PlainText strips markup and normalizes whitespace for a plain-text body.
func (s *Sanitizer) PlainText(body string) string {
	body = s.decodeEncodedWords(body)
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = s.stripPolicy.Sanitize(body)
	body = html.UnescapeString(body)
	body = spacesTabsRe.ReplaceAllString(body, " ")
	return finish(body)
}

// decodeEncodedWords resolves RFC 2047 encoded words that leak into bodies.
func (s *Sanitizer) decodeEncodedWords(body string) string {
	if !strings.Contains(body, "=?") {
		return body
	}
	decoded, err := s.decoder.DecodeHeader(body)
	if err != nil {
		return body
	}
	return decoded
}

// finish applies the shared post-processing: drop residual leaked headers,
// trim blank edges, normalize paragraph spacing, enforce the storage ceiling.
func finish(body string) string {
	body = dropLeakedHeaders(body)
	body = strings.Trim(body, "\n ")
	body = manyNewlinesRe.ReplaceAllString(body, "\n\n")
	return truncate(body)
}

// dropLeakedHeaders skips past the first blank line when the text still
// begins with a header-looking block.
func dropLeakedHeaders(body string) string {
	if !leakedHeaderRe.MatchString(strings.TrimLeft(body, "\n ")) {
		return body
	}
	trimmed := strings.TrimLeft(body, "\n ")
	if idx := strings.Index(trimmed, "\n\n"); idx >= 0 {
		return trimmed[idx+2:]
	}
	return body
}

func truncate(body string) string {
	runes := []rune(body)
	if len(runes) <= maxBodyRunes {
		return body
	}
	return string(runes[:truncatedBodyLen]) + truncationEllipsis
}
