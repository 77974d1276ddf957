package chunker

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultVocabulary names the tokenizer family the default ratio approximates.
const DefaultVocabulary = "o200k_base"

// DefaultCharsPerToken is the serialized-characters-per-token ratio used when
// none is configured. Four characters per token is a reasonable fit for JSON
// over Latin-script content.
const DefaultCharsPerToken = 4.0

// Estimator reports the token cost of one sub-item as it will be serialized
// for the model. Implementations must be deterministic and monotone
// non-decreasing in serialized length; the chunking guarantees depend on
// nothing else.
type Estimator interface {
	Estimate(v any) (int, error)
}

// CharEstimator estimates token counts from serialized JSON length using a
// fixed characters-per-token ratio. The vocabulary is recorded for
// diagnostics only; it does not change the arithmetic.
type CharEstimator struct {
	vocabulary    string
	charsPerToken float64
}

var _ Estimator = (*CharEstimator)(nil)

// NewCharEstimator creates an estimator for the given vocabulary and ratio.
// An empty vocabulary falls back to DefaultVocabulary. A non-positive ratio
// is a configuration error and fails construction; nothing should start a
// run with an estimator that cannot measure.
func NewCharEstimator(vocabulary string, charsPerToken float64) (*CharEstimator, error) {
	if math.IsNaN(charsPerToken) || charsPerToken <= 0 {
		return nil, fmt.Errorf("chars-per-token ratio must be positive, got %v", charsPerToken)
	}
	if vocabulary == "" {
		vocabulary = DefaultVocabulary
	}
	return &CharEstimator{vocabulary: vocabulary, charsPerToken: charsPerToken}, nil
}

// DefaultEstimator returns a character-ratio estimator built from the
// package defaults.
func DefaultEstimator() *CharEstimator {
	return &CharEstimator{vocabulary: DefaultVocabulary, charsPerToken: DefaultCharsPerToken}
}

// Vocabulary returns the tokenizer family this estimator approximates.
func (e *CharEstimator) Vocabulary() string {
	return e.vocabulary
}

// Estimate serializes v to JSON and divides its length by the configured
// ratio, rounding up. Non-empty input never estimates below one token.
func (e *CharEstimator) Estimate(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("serialize for estimation: %w", err)
	}
	tokens := int(math.Ceil(float64(len(b)) / e.charsPerToken))
	if tokens < 1 {
		tokens = 1
	}
	return tokens, nil
}
