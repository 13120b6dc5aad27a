// Package generation turns a word list into fill-in-the-blank problems by
// calling a text generator one chunk at a time.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/serial"
)

// DefaultChunkSize bounds the number of words sent in one generator call.
const DefaultChunkSize = 10

var (
	// ErrNoContent means the first chunk failed, so nothing was generated.
	ErrNoContent = errors.New("generation produced no problems")
	// ErrMalformedResponse means the generator answered with data that does
	// not have the expected structure.
	ErrMalformedResponse = errors.New("malformed generation response")
)

// Request is one call to the external generator.
type Request struct {
	Words               []string                  `json:"words"`
	Difficulty          model.Difficulty          `json:"difficulty"`
	TranslationLanguage model.TranslationLanguage `json:"translation_language"`
	WordsPerSet         int                       `json:"words_per_set"`
}

// Draft is a generated problem before it has an id.
type Draft struct {
	Word        string `json:"word"`
	Answer      string `json:"answer"`
	Sentence    string `json:"sentence"`
	Hint        string `json:"hint"`
	Translation string `json:"translation"`
}

// Generator is the external text-generation service.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]Draft, error)
}

// ProgressFunc receives current/total after every chunk.
type ProgressFunc func(current, total int)

// ChunkError describes the chunk that stopped generation.
type ChunkError struct {
	Index int
	Words []string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d words): %v", e.Index, len(e.Words), e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Outcome is the result of a generation run. When Stopped is non-nil the
// run ended early and Problems covers only Words, a prefix of the input.
type Outcome struct {
	Problems    []model.Problem
	Words       []string
	Fulfillment model.Fulfillment
	Stopped     *ChunkError
}

// Orchestrator chunks word lists and drives the generator sequentially.
type Orchestrator struct {
	gen       Generator
	queue     *serial.Queue
	chunkSize int
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand // nil means the global source
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithSeed makes the final shuffle deterministic.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) { o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock overrides time.Now for id generation.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. All generator calls go through queue.
func New(gen Generator, queue *serial.Queue, opts ...Option) *Orchestrator {
	o := &Orchestrator{gen: gen, queue: queue, chunkSize: DefaultChunkSize, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ChunkSize returns the configured chunk size.
func (o *Orchestrator) ChunkSize() int { return o.chunkSize }

// Generate produces one problem per word. Chunks run strictly in order; a
// failing chunk after at least one success ends the run with a partial
// Outcome, while a failing first chunk returns ErrNoContent.
func (o *Orchestrator) Generate(ctx context.Context, req Request, progress ProgressFunc) (Outcome, error) {
	words := cleanWords(req.Words)
	if len(words) == 0 {
		return Outcome{}, fmt.Errorf("%w: word list is empty", ErrNoContent)
	}

	chunks := Chunk(words, o.chunkSize)
	stamp := nextStamp(o.now())
	var acc []model.Problem
	var fulfilled []string
	var stopped *ChunkError

	for i, chunk := range chunks {
		drafts, err := o.runChunk(ctx, req, chunk)
		if err != nil {
			stopped = &ChunkError{Index: i, Words: chunk, Err: err}
			slog.Warn("generation chunk failed", "chunk", i, "chunks", len(chunks), "words", len(chunk), "error", err)
			break
		}
		for _, d := range drafts {
			acc = append(acc, model.Problem{
				ID:          problemID(stamp, len(acc)),
				Word:        d.Word,
				Answer:      d.Answer,
				Sentence:    d.Sentence,
				Hint:        d.Hint,
				Translation: d.Translation,
			})
		}
		fulfilled = append(fulfilled, chunk...)
		slog.Debug("generation chunk done", "chunk", i, "chunks", len(chunks), "problems", len(acc))
		if progress != nil {
			progress(len(acc), len(words))
		}
	}

	if len(acc) == 0 {
		return Outcome{Stopped: stopped}, fmt.Errorf("%w: %w", ErrNoContent, stopped)
	}

	o.shuffle(acc)
	return Outcome{
		Problems:    acc,
		Words:       fulfilled,
		Fulfillment: model.Fulfillment{Requested: len(words), Fulfilled: len(fulfilled)},
		Stopped:     stopped,
	}, nil
}

// Regenerate produces fresh content for a single word. The caller keeps the
// problem's existing id.
func (o *Orchestrator) Regenerate(ctx context.Context, word string, difficulty model.Difficulty, lang model.TranslationLanguage) (Draft, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return Draft{}, errors.New("word is empty")
	}
	drafts, err := o.runChunk(ctx, Request{
		Words:               []string{word},
		Difficulty:          difficulty,
		TranslationLanguage: lang,
		WordsPerSet:         1,
	}, []string{word})
	if err != nil {
		return Draft{}, err
	}
	return drafts[0], nil
}

func (o *Orchestrator) runChunk(ctx context.Context, req Request, chunk []string) ([]Draft, error) {
	var drafts []Draft
	err := o.queue.Do(ctx, func(ctx context.Context) error {
		r := req
		r.Words = chunk
		var err error
		drafts, err = o.gen.Generate(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return matchChunk(chunk, drafts)
}

// matchChunk checks that drafts contain exactly one valid entry per chunk
// word and returns them in chunk order.
func matchChunk(chunk []string, drafts []Draft) ([]Draft, error) {
	if len(drafts) != len(chunk) {
		return nil, fmt.Errorf("%w: got %d problems for %d words", ErrMalformedResponse, len(drafts), len(chunk))
	}
	byWord := make(map[string]Draft, len(drafts))
	for _, d := range drafts {
		d = normalizeDraft(d)
		if _, dup := byWord[d.Word]; dup {
			return nil, fmt.Errorf("%w: duplicate problem for %q", ErrMalformedResponse, d.Word)
		}
		if err := ValidateDraft(d); err != nil {
			return nil, fmt.Errorf("%w: problem for %q: %w", ErrMalformedResponse, d.Word, err)
		}
		byWord[d.Word] = d
	}
	out := make([]Draft, 0, len(chunk))
	for _, w := range chunk {
		d, ok := byWord[w]
		if !ok {
			return nil, fmt.Errorf("%w: no problem for %q", ErrMalformedResponse, w)
		}
		out = append(out, d)
	}
	return out, nil
}

// Chunk splits words into consecutive groups of at most size.
func Chunk(words []string, size int) [][]string {
	if size < 1 {
		size = DefaultChunkSize
	}
	var out [][]string
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		out = append(out, words[start:end])
	}
	return out
}

// cleanWords trims words and drops blanks and repeats, keeping order.
func cleanWords(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// shuffle applies Fisher-Yates to the merged problems.
func (o *Orchestrator) shuffle(ps []model.Problem) {
	swap := func(i, j int) { ps[i], ps[j] = ps[j], ps[i] }
	if o.rng == nil {
		rand.Shuffle(len(ps), swap)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rng.Shuffle(len(ps), swap)
}

var lastStamp atomic.Int64

// nextStamp returns a strictly increasing nanosecond stamp, so two runs in
// the same process never share an id prefix even on a coarse clock.
func nextStamp(now time.Time) int64 {
	ts := now.UnixNano()
	for {
		last := lastStamp.Load()
		if ts <= last {
			ts = last + 1
		}
		if lastStamp.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

func problemID(stamp int64, index int) model.ProblemID {
	return model.ProblemID("p" + strconv.FormatInt(stamp, 36) + "-" + strconv.Itoa(index))
}
