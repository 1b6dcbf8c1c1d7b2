package scoring

import (
	"fmt"

	"github.com/fathomlabs/fathom/internal/features"
	"github.com/fathomlabs/fathom/internal/registry"
)

// ModelSchemaError reports an LTR artifact whose coefficient count does
// not match the feature schema. Fatal to the request.
type ModelSchemaError struct {
	Model    string
	Expected int
	Got      int
}

func (e *ModelSchemaError) Error() string {
	return fmt.Sprintf("ltr model %s has %d coefficients, schema needs %d", e.Model, e.Got, e.Expected)
}

// Scorer ranks feature records. Implementations are pure.
type Scorer interface {
	Score(records []features.Record) ([]float64, error)
}

// Linear is the default LTR scorer: score = sum of coefficient * feature.
type Linear struct {
	model registry.ModelEntry
}

// NewLinear validates the artifact against the schema before use.
func NewLinear(model registry.ModelEntry) (*Linear, error) {
	if len(model.Coefficients) != features.FeatureCount {
		return nil, &ModelSchemaError{
			Model:    model.ID(),
			Expected: features.FeatureCount,
			Got:      len(model.Coefficients),
		}
	}
	return &Linear{model: model}, nil
}

func (l *Linear) Score(records []features.Record) ([]float64, error) {
	out := make([]float64, len(records))
	for i, rec := range records {
		if len(rec.Values) != len(l.model.Coefficients) {
			return nil, &ModelSchemaError{
				Model:    l.model.ID(),
				Expected: len(l.model.Coefficients),
				Got:      len(rec.Values),
			}
		}
		var s float64
		for j, w := range l.model.Coefficients {
			s += w * rec.Values[j]
		}
		out[i] = s
	}
	return out, nil
}

// Model returns the entry this scorer was built from.
func (l *Linear) Model() registry.ModelEntry { return l.model }
