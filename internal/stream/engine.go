// ABOUTME: Chunked-stream ingestion engine: word-paced reveal, marker detection, cleanup.
// ABOUTME: Maintains a cross-chunk buffer so control markers split between reads are caught.

package stream

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/2389/pulse-chat/internal/markup"
)

// Class is the terminal classification of an ingested stream.
type Class int

const (
	// ClassCompleted means the stream ended normally and Text carries the
	// finalized reply (cleaned, addendum applied).
	ClassCompleted Class = iota
	// ClassHandoff means the hand-off marker was seen; Text carries the
	// cleaned text that preceded it. This is not an error.
	ClassHandoff
	// ClassError means the stream failed mid-read; Text carries whatever
	// was accumulated before the failure.
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassCompleted:
		return "completed"
	case ClassHandoff:
		return "handoff"
	case ClassError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of ingesting one response stream.
type Result struct {
	Class Class
	// Text is the display form: cleaned, with the case-creation addendum
	// applied on normal completion. Never empty for a completed stream.
	Text string
	// Raw is the revealed pre-cleaning text, kept for link extraction.
	Raw string
}

// RevealFunc receives each newly revealed token and the cleaned cumulative
// text. Tokens alternate between words and the whitespace that separated
// them; concatenated they reproduce the raw revealed text exactly.
type RevealFunc func(token string, cleaned string)

// Options configures an Engine.
type Options struct {
	// WordDelay paces reveal callbacks for a live-typing effect. Zero
	// disables pacing; ordering is unaffected either way.
	WordDelay time.Duration
	// ShortLimit is the byte length under which a body that ends before
	// the first full read is classified in one shot without pacing.
	ShortLimit int
	Logger     *slog.Logger
}

const defaultShortLimit = 50

// Engine ingests chunked chat response streams.
type Engine struct {
	wordDelay  time.Duration
	shortLimit int
	logger     *slog.Logger
}

// New creates an ingestion engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shortLimit := opts.ShortLimit
	if shortLimit <= 0 {
		shortLimit = defaultShortLimit
	}
	return &Engine{
		wordDelay:  opts.WordDelay,
		shortLimit: shortLimit,
		logger:     logger.With("component", "stream"),
	}
}

// Ingest consumes the response body chunk by chunk, invoking reveal (which
// may be nil) for each token, and returns the terminal result. A hand-off
// marker stops consumption; the remainder of the body is left unread for
// the caller to close.
func (e *Engine) Ingest(ctx context.Context, r io.Reader, reveal RevealFunc) (*Result, error) {
	ing := &ingestion{engine: e, reveal: reveal, prev: '\n'}

	// Bodies that end inside the first read resolve in one shot: same
	// marker and cleanup handling, no pacing.
	head := make([]byte, e.shortLimit)
	n, err := io.ReadFull(r, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		ing.short = true
		if ing.consume(ctx, string(head[:n])) {
			return ing.finishHandoff(), nil
		}
		return ing.finishCompleted(ctx), nil
	}
	if err != nil {
		e.logger.Warn("stream read failed", "error", err)
		return ing.finishError(), err
	}
	if ing.consume(ctx, string(head[:n])) {
		return ing.finishHandoff(), nil
	}

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ing.finishError(), ctx.Err()
		}
		n, err := r.Read(buf)
		if n > 0 {
			if ing.consume(ctx, string(buf[:n])) {
				return ing.finishHandoff(), nil
			}
		}
		if err == io.EOF {
			return ing.finishCompleted(ctx), nil
		}
		if err != nil {
			e.logger.Warn("stream read failed", "error", err)
			return ing.finishError(), err
		}
	}
}

// ingestion holds the per-stream state: everything read so far, the portion
// not yet revealed, and the portion already revealed.
type ingestion struct {
	engine  *Engine
	reveal  RevealFunc
	short   bool
	all     strings.Builder // every byte read, feeds the completion pass
	pending string          // read but not yet revealed
	prev    byte            // byte immediately before pending in the stream
	shown   strings.Builder // raw revealed text
}

// atLineStart reports whether pending begins at a line boundary; metadata
// lines are only recognized there.
func (g *ingestion) atLineStart() bool {
	return g.prev == '\n'
}

// consume folds one physical chunk into the stream state. Returns true when
// the hand-off marker fired and reading must stop.
func (g *ingestion) consume(ctx context.Context, chunk string) bool {
	g.all.WriteString(chunk)
	g.pending += chunk

	// The marker may straddle chunk boundaries; pending always retains any
	// suffix that could still become it, so searching pending is enough.
	if idx := strings.Index(g.pending, markup.HandoffMarker); idx >= 0 {
		before := stripMetaLines(g.pending[:idx], g.atLineStart())
		g.pending = ""
		g.emitTokens(ctx, before)
		return true
	}

	// Withhold anything that is not yet safe to reveal: a suffix that may
	// grow into the marker, an unterminated metadata line, and a trailing
	// partial word (words are revealed whole).
	end := len(g.pending) - markerPrefixLen(g.pending)
	if e := len(g.pending) - metaLineHold(g.pending, g.atLineStart()); e < end {
		end = e
	}
	if e := wordBoundary(g.pending); e < end {
		end = e
	}

	safe := g.pending[:end]
	g.pending = g.pending[end:]
	if safe != "" {
		g.emitTokens(ctx, stripMetaLines(safe, g.atLineStart()))
		g.prev = safe[len(safe)-1]
	}
	return false
}

// emitTokens reveals text token by token.
func (g *ingestion) emitTokens(ctx context.Context, text string) {
	for _, tok := range splitTokens(text) {
		g.shown.WriteString(tok)
		if g.reveal != nil {
			g.reveal(tok, markup.CleanStreamText(g.shown.String()))
		}
		if g.engine.wordDelay > 0 && !g.short {
			select {
			case <-time.After(g.engine.wordDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// finishCompleted resolves the withheld tail and runs the completion pass
// over the full accumulated text (the cleaner drops metadata lines again,
// so flag tokens carried in them still count while revealed text stays
// stable across chunkings).
func (g *ingestion) finishCompleted(ctx context.Context) *Result {
	if g.pending != "" {
		// A still-buffered metadata line is dropped; anything else is a
		// partial word or marker false-start that belongs to the reply.
		tail := g.pending
		g.pending = ""
		if !(g.atLineStart() && strings.HasPrefix(tail, "id:")) {
			g.emitTokens(ctx, tail)
		}
	}
	return &Result{
		Class: ClassCompleted,
		Text:  markup.FinalizeText(g.all.String()),
		Raw:   g.shown.String(),
	}
}

func (g *ingestion) finishHandoff() *Result {
	raw := g.shown.String()
	return &Result{
		Class: ClassHandoff,
		Text:  markup.CleanStreamText(raw),
		Raw:   raw,
	}
}

func (g *ingestion) finishError() *Result {
	raw := g.shown.String()
	return &Result{
		Class: ClassError,
		Text:  markup.CleanStreamText(raw),
		Raw:   raw,
	}
}

// stripMetaLines removes complete "id:"-prefixed lines from text. bol says
// whether text begins at a line boundary; a mid-line "id:" is reply text,
// not metadata.
func stripMetaLines(text string, bol bool) string {
	var b strings.Builder
	for len(text) > 0 {
		line := text
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			line = text[:nl+1]
		}
		if !(bol && strings.HasPrefix(line, "id:")) {
			b.WriteString(line)
		}
		text = text[len(line):]
		bol = true
	}
	return b.String()
}

// markerPrefixLen finds the longest proper prefix of the marker that ends
// pending; those bytes may complete into the full marker on the next chunk.
func markerPrefixLen(pending string) int {
	limit := len(markup.HandoffMarker) - 1
	if limit > len(pending) {
		limit = len(pending)
	}
	for k := limit; k > 0; k-- {
		if strings.HasSuffix(pending, markup.HandoffMarker[:k]) {
			return k
		}
	}
	return 0
}

// metaLineHold withholds a trailing line that is, or could still become, an
// "id:" metadata line with no terminating newline yet.
func metaLineHold(pending string, bol bool) int {
	start := strings.LastIndexByte(pending, '\n') + 1
	if start == 0 && !bol {
		return 0
	}
	tail := pending[start:]
	if tail == "" {
		return 0
	}
	if strings.HasPrefix(tail, "id:") || strings.HasPrefix("id:", tail) {
		return len(tail)
	}
	return 0
}

// wordBoundary returns the byte offset just after the last whitespace in
// pending; everything beyond it is a partial word.
func wordBoundary(pending string) int {
	for i := len(pending) - 1; i >= 0; i-- {
		switch pending[i] {
		case ' ', '\t', '\n', '\r':
			return i + 1
		}
	}
	return 0
}

// splitTokens splits text into alternating word and whitespace runs,
// preserving every byte.
func splitTokens(text string) []string {
	var tokens []string
	runes := []rune(text)
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i == len(runes) || unicode.IsSpace(runes[i]) != unicode.IsSpace(runes[start]) {
			tokens = append(tokens, string(runes[start:i]))
			start = i
		}
	}
	return tokens
}
