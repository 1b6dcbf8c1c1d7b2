package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/embeddings"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/ratecontrol"
	"github.com/fathomlabs/fathom/internal/scoring"
	"github.com/fathomlabs/fathom/internal/vectordb"
)

// Error kinds carried on the wire in the error envelope.
const (
	KindConfig      = "config"
	KindEmbed       = "embed"
	KindRetrieval   = "retrieval"
	KindModelSchema = "model_schema"
	KindTimeout     = "timeout"
	KindOverload    = "overload"
	KindInput       = "input"
	KindCache       = "cache"
	KindInternal    = "internal"
)

// StageError is the typed failure a request surfaces: which kind of fault,
// at which pipeline stage.
type StageError struct {
	Kind    string
	Stage   string
	Message string
	cause   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s error at stage %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.cause }

func inputError(msg string) *StageError {
	return &StageError{Kind: KindInput, Stage: "validate", Message: msg}
}

// classify wraps a stage failure with its wire kind. Deadline expiry wins
// over the underlying cause so callers see where the budget ran out.
func classify(stage string, err error) *StageError {
	se := &StageError{Stage: stage, Message: err.Error(), cause: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		se.Kind = KindTimeout
	case errors.Is(err, ratecontrol.ErrOverloaded):
		se.Kind = KindOverload
	default:
		var ce *config.ConfigError
		var ee *embeddings.EmbedError
		var re *vectordb.RetrievalError
		var mse *scoring.ModelSchemaError
		switch {
		case errors.As(err, &ce):
			se.Kind = KindConfig
		case errors.As(err, &ee):
			se.Kind = KindEmbed
		case errors.As(err, &re):
			se.Kind = KindRetrieval
		case errors.As(err, &mse):
			se.Kind = KindModelSchema
		default:
			se.Kind = KindInternal
		}
	}
	metrics.ErrorsTotal.WithLabelValues(se.Kind).Inc()
	return se
}
