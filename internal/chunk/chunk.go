// Package chunk splits normalized text into overlapping, bounded-size
// segments for embedding.
package chunk

import (
	"errors"
	"fmt"
	"iter"
	"unicode"
)

// ErrInvalidConfig indicates invalid splitter configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

const (
	// DefaultSize is the default window size in runes.
	DefaultSize = 1200

	// DefaultOverlap is the default number of runes shared between
	// consecutive chunks.
	DefaultOverlap = 200

	// DefaultLookback is how far back from a window boundary the splitter
	// searches for whitespace before falling back to a hard cut.
	DefaultLookback = 48
)

// Chunk is one bounded slice of a document's normalized text.
type Chunk struct {
	// Index is the chunk's ordinal position within the document.
	Index int

	// Start is the chunk's starting rune offset in the source text.
	Start int

	// Text is the chunk content.
	Text string
}

// Config configures a Splitter.
type Config struct {
	// Size is the sliding-window size in runes.
	Size int

	// Overlap is the number of runes shared between consecutive chunks.
	// Must be smaller than Size. Zero is a valid setting and means no
	// overlap; the default applies only when Size is also unset.
	Overlap int

	// MaxChunks caps the number of chunks per document. 0 means unlimited.
	// Exceeding the cap truncates the sequence; it is never an error.
	MaxChunks int

	// Lookback is the whitespace search window at chunk boundaries.
	Lookback int
}

// ApplyDefaults sets default values for unset fields. Overlap zero cannot
// be told apart from unset, so it only defaults alongside Size; an explicit
// zero with a caller-chosen Size stays zero.
func (c *Config) ApplyDefaults() {
	if c.Size == 0 {
		c.Size = DefaultSize
		if c.Overlap == 0 {
			c.Overlap = DefaultOverlap
		}
	}
	if c.Lookback == 0 {
		c.Lookback = DefaultLookback
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidConfig)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, size)", ErrInvalidConfig)
	}
	if c.MaxChunks < 0 {
		return fmt.Errorf("%w: max chunks cannot be negative", ErrInvalidConfig)
	}
	if c.Lookback < 0 {
		return fmt.Errorf("%w: lookback cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Splitter produces chunk sequences from normalized text. It holds no
// external state; the same input always yields the same chunks.
type Splitter struct {
	cfg Config
}

// NewSplitter creates a Splitter from the given configuration.
func NewSplitter(cfg Config) (*Splitter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{cfg: cfg}, nil
}

// All returns a lazy, restartable sequence of chunks over text. The sequence
// honors MaxChunks; use Split when the caller needs to know whether the cap
// truncated the document.
func (s *Splitter) All(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		start := 0
		index := 0
		for start < len(runes) {
			if s.cfg.MaxChunks > 0 && index >= s.cfg.MaxChunks {
				return
			}

			end := start + s.cfg.Size
			if end >= len(runes) {
				yield(Chunk{Index: index, Start: start, Text: string(runes[start:])})
				return
			}

			cut := s.boundary(runes, start, end)
			if !yield(Chunk{Index: index, Start: start, Text: string(runes[start:cut])}) {
				return
			}
			index++

			next := cut - s.cfg.Overlap
			if next <= start {
				// Guarantee forward progress on pathological inputs
				// (overlap larger than the emitted chunk).
				next = start + 1
			}
			start = next
		}
	}
}

// Split materializes all chunks for text. The second return value reports
// whether MaxChunks truncated the document; callers record truncation in the
// run log rather than failing the item.
func (s *Splitter) Split(text string) ([]Chunk, bool) {
	var chunks []Chunk
	for c := range s.All(text) {
		chunks = append(chunks, c)
	}

	truncated := false
	if s.cfg.MaxChunks > 0 && len(chunks) == s.cfg.MaxChunks {
		last := chunks[len(chunks)-1]
		consumed := last.Start + len([]rune(last.Text))
		truncated = consumed < len([]rune(text))
	}
	return chunks, truncated
}

// boundary picks the cut position for a window ending at end. It prefers
// breaking on whitespace within the lookback window so words stay intact,
// falling back to a hard cut at end when no whitespace is found.
func (s *Splitter) boundary(runes []rune, start, end int) int {
	low := end - s.cfg.Lookback
	if low < start+1 {
		low = start + 1
	}
	for j := end; j > low; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j - 1
		}
	}
	return end
}
