// Package tokens counts prompt tokens for budget enforcement.
//
// Counts gate cost and context-length correctness, but they are a
// measurement, not a critical operation: the counter never returns an
// error. When no exact tokenizer is registered for a model it falls
// back to the cl100k_base encoding, and when tokenization itself fails
// it falls back to a characters-per-token heuristic.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is the general-purpose BPE used for models without a
// registered tokenizer.
const fallbackEncoding = "cl100k_base"

// heuristicCharsPerToken is the rough English average used when no
// tokenizer can run at all.
const heuristicCharsPerToken = 4

// Counter maps (text, model) to a token count. Safe for concurrent use.
type Counter struct {
	logger *slog.Logger

	mu       sync.Mutex
	byModel  map[string]*tiktoken.Tiktoken
	fallback *tiktoken.Tiktoken
}

// NewCounter creates a token counter. Encoders are loaded lazily and
// cached per model.
func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		logger:  logger.With("component", "tokens"),
		byModel: make(map[string]*tiktoken.Tiktoken),
	}
}

// Count returns the number of tokens in text for the given model.
// It never fails and never returns a negative value.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}

	enc := c.encoderFor(model)
	if enc == nil {
		return heuristic(text)
	}

	n, ok := encode(enc, text)
	if !ok {
		c.logger.Warn("tokenization failed, using heuristic estimate",
			"model", model,
			"text_len", len(text),
		)
		return heuristic(text)
	}
	return n
}

// encoderFor returns the cached encoder for model, loading the exact
// encoding or the fallback as needed. Returns nil only when even the
// fallback encoding cannot be loaded.
func (c *Counter) encoderFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.byModel[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model is a normal event, not an error.
		c.logger.Debug("no exact tokenizer for model, using fallback encoding",
			"model", model,
			"encoding", fallbackEncoding,
		)
		if c.fallback == nil {
			c.fallback, err = tiktoken.GetEncoding(fallbackEncoding)
			if err != nil {
				c.logger.Warn("fallback encoding unavailable", "error", err)
				return nil
			}
		}
		enc = c.fallback
	}

	c.byModel[model] = enc
	return enc
}

// encode runs the BPE encoder, converting any panic into a failed
// result so Count can fall back to the heuristic.
func encode(enc *tiktoken.Tiktoken, text string) (n int, ok bool) {
	defer func() {
		if recover() != nil {
			n, ok = 0, false
		}
	}()
	return len(enc.Encode(text, nil, nil)), true
}

// heuristic estimates tokens as ceil(len/4).
func heuristic(text string) int {
	return (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
}
