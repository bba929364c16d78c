// Package extract selects the single best textual body from a raw RFC822
// message, preferring HTML over plain text and the longest candidate of each
// type across the MIME part tree.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	htmlcharset "golang.org/x/net/html/charset"
)

// PlaceholderBody is substituted when a message carries no readable text part.
const PlaceholderBody = "No readable content found"

const defaultBodyLimit = 512 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Email is the intermediate product of parsing one raw message. Body holds the
// winning candidate's uncleaned text; RawHTML is set only when HTML won.
type Email struct {
	Subject   string
	FromEmail string
	FromName  string
	Date      time.Time
	MessageID string
	Body      string
	RawHTML   string
	IsHTML    bool
}

// Extractor parses raw messages. The zero value is not usable; call New.
type Extractor struct {
	decoder   *mime.WordDecoder
	bodyLimit int64
	logger    *log.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// New returns an Extractor with the default body read limit.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		decoder:   &mime.WordDecoder{},
		bodyLimit: defaultBodyLimit,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithBodyLimit constrains how many bytes of any single part are read.
func WithBodyLimit(limit int64) Option {
	return func(e *Extractor) {
		if limit > 0 {
			e.bodyLimit = limit
		}
	}
}

// WithLogger overrides the logger used for parse diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Parse walks the message's MIME tree and returns headers plus the winning
// body. It never returns an empty Body: when nothing readable is found the
// placeholder is substituted.
func (e *Extractor) Parse(raw []byte) (Email, error) {
	if len(raw) == 0 {
		return Email{Body: PlaceholderBody}, errors.New("extract: empty message")
	}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		e.logf("extract: structured parse failed: %v", err)
		return e.legacyParse(raw), nil
	}

	var email Email
	email.Subject = e.decodeHeader(entity.Header.Get("Subject"))
	email.FromEmail, email.FromName = e.parseFrom(entity.Header.Get("From"))
	email.MessageID = NormalizeMessageID(entity.Header.Get("Message-Id"))
	if date, err := stdmail.ParseDate(entity.Header.Get("Date")); err == nil {
		email.Date = date
	}

	folded := e.foldEntity(entity)
	e.resolve(&email, folded)
	return email, nil
}

// candidate is one textual body found during the fold.
type candidate struct {
	text  string
	found bool
}

// foldResult carries the best plain and HTML candidates seen so far.
type foldResult struct {
	plain candidate
	html  candidate
}

// merge keeps the longest candidate of each type, in bytes.
func (r foldResult) merge(other foldResult) foldResult {
	if other.plain.found && (!r.plain.found || len(other.plain.text) > len(r.plain.text)) {
		r.plain = other.plain
	}
	if other.html.found && (!r.html.found || len(other.html.text) > len(r.html.text)) {
		r.html = other.html
	}
	return r
}

// foldEntity is the recursive tree fold: composite nodes merge their
// children's results, leaves contribute at most one candidate.
func (e *Extractor) foldEntity(entity *gomessage.Entity) foldResult {
	if mr := entity.MultipartReader(); mr != nil {
		var acc foldResult
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				e.logf("extract: read part failed: %v", err)
				break
			}
			acc = acc.merge(e.foldEntity(part))
		}
		return acc
	}
	return e.foldLeaf(entity)
}

func (e *Extractor) foldLeaf(entity *gomessage.Entity) foldResult {
	mediaType := "text/plain"
	if ct := entity.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}

	switch {
	case strings.HasPrefix(mediaType, "text/html"):
		text, err := e.readBody(entity.Body)
		if err != nil || text == "" {
			return foldResult{}
		}
		return foldResult{html: candidate{text: text, found: true}}
	case strings.HasPrefix(mediaType, "text/plain"):
		text, err := e.readBody(entity.Body)
		if err != nil || text == "" {
			return foldResult{}
		}
		return foldResult{plain: candidate{text: text, found: true}}
	default:
		// Non-text leaves (attachments, images) contribute nothing.
		return foldResult{}
	}
}

// resolve applies the preference order: HTML wins, else plain, else placeholder.
func (e *Extractor) resolve(email *Email, folded foldResult) {
	switch {
	case folded.html.found:
		email.Body = folded.html.text
		email.RawHTML = folded.html.text
		email.IsHTML = true
	case folded.plain.found:
		email.Body = folded.plain.text
	default:
		email.Body = PlaceholderBody
	}
}

// legacyParse is the stdlib fallback for messages go-message rejects outright.
func (e *Extractor) legacyParse(raw []byte) Email {
	var email Email
	reader, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		e.logf("extract: legacy parse failed: %v", err)
		email.Body = string(capBytes(raw, e.bodyLimit))
		if strings.TrimSpace(email.Body) == "" {
			email.Body = PlaceholderBody
		}
		return email
	}
	email.Subject = e.decodeHeader(reader.Header.Get("Subject"))
	email.FromEmail, email.FromName = e.parseFrom(reader.Header.Get("From"))
	email.MessageID = NormalizeMessageID(reader.Header.Get("Message-Id"))
	if date, err := reader.Header.Date(); err == nil {
		email.Date = date
	}
	body, err := e.readBody(reader.Body)
	if err != nil || strings.TrimSpace(body) == "" {
		email.Body = PlaceholderBody
		return email
	}
	email.Body = body
	email.IsHTML = looksLikeHTMLContentType(reader.Header.Get("Content-Type"))
	if email.IsHTML {
		email.RawHTML = body
	}
	return email
}

func (e *Extractor) readBody(src io.Reader) (string, error) {
	if src == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(src, e.bodyLimit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

func (e *Extractor) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || e.decoder == nil {
		return value
	}
	decoded, err := e.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (e *Extractor) parseFrom(value string) (addr, name string) {
	value = e.decodeHeader(value)
	if value == "" {
		return "", ""
	}
	if parsed, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(parsed.Address), strings.TrimSpace(parsed.Name)
	}
	return strings.TrimSpace(value), ""
}

func (e *Extractor) logf(format string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

// NormalizeMessageID strips angle brackets and quotes from a Message-ID value.
func NormalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, "\"")
	return strings.TrimSpace(value)
}

func looksLikeHTMLContentType(value string) bool {
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		return strings.HasPrefix(strings.ToLower(parsed), "text/html")
	}
	return false
}

func capBytes(raw []byte, limit int64) []byte {
	if limit > 0 && int64(len(raw)) > limit {
		return raw[:limit]
	}
	return raw
}
