package expressions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Jeffail/gabs/v2"

	"github.com/rendis/stepflow/pkg/schema"
)

// ResolutionOutcome classifies how a single {{stepId.outputKey}} reference
// was resolved. Every outcome other than OutcomeResolved substitutes the
// empty string.
type ResolutionOutcome string

const (
	OutcomeResolved         ResolutionOutcome = "resolved"
	OutcomeMissingReference ResolutionOutcome = "missing_reference"
	OutcomeMalformed        ResolutionOutcome = "malformed"
)

// Reference is one template reference found in a resolved string.
type Reference struct {
	// Param is the parameter key the reference was found in, set by
	// ResolveParameters.
	Param   string            `json:"param,omitempty"`
	Raw     string            `json:"raw"`
	StepID  string            `json:"step_id,omitempty"`
	Key     string            `json:"key,omitempty"`
	Outcome ResolutionOutcome `json:"outcome"`
}

// Resolution is the result of resolving one string.
type Resolution struct {
	Value      string
	References []Reference
}

// Degraded reports whether any reference did not resolve.
func (r Resolution) Degraded() bool {
	for _, ref := range r.References {
		if ref.Outcome != OutcomeResolved {
			return true
		}
	}
	return false
}

// RunDataReader is the slice of the store the resolver reads from.
type RunDataReader interface {
	LatestRunData(ctx context.Context, runID, stepID string) (*schema.WorkflowRunData, error)
}

// Resolver substitutes {{stepId.outputKey}} references with values recorded
// earlier in the same run. Missing and malformed references degrade to the
// empty string; only store failures are returned as errors.
type Resolver struct {
	reader RunDataReader
	logger *slog.Logger
}

// NewResolver creates a Resolver reading from reader.
func NewResolver(reader RunDataReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reader: reader, logger: logger}
}

// Resolve scans value for non-overlapping {{...}} tokens and substitutes each.
// An unclosed {{ is copied through verbatim.
func (r *Resolver) Resolve(ctx context.Context, value, runID string) (Resolution, error) {
	if !strings.Contains(value, "{{") {
		return Resolution{Value: value}, nil
	}

	var (
		out  strings.Builder
		refs []Reference
	)
	out.Grow(len(value))

	i := 0
	for i < len(value) {
		idx := strings.Index(value[i:], "{{")
		if idx == -1 {
			out.WriteString(value[i:])
			break
		}
		out.WriteString(value[i : i+idx])
		start := i + idx + 2

		end := strings.Index(value[start:], "}}")
		if end == -1 {
			out.WriteString(value[i+idx:])
			break
		}
		end += start

		ref, text, err := r.resolveReference(ctx, value[start:end], runID)
		if err != nil {
			return Resolution{}, err
		}
		refs = append(refs, ref)
		out.WriteString(text)

		i = end + 2
	}

	return Resolution{Value: out.String(), References: refs}, nil
}

// ResolveString is Resolve without the per-reference report.
func (r *Resolver) ResolveString(ctx context.Context, value, runID string) (string, error) {
	res, err := r.Resolve(ctx, value, runID)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// ResolveParameters returns a copy of params with every string value
// resolved. Values of other kinds pass through unchanged.
func (r *Resolver) ResolveParameters(ctx context.Context, params schema.Parameters, runID string) (schema.Parameters, []Reference, error) {
	out := params.Clone()
	var refs []Reference
	for _, key := range params.Keys() {
		s, ok := params[key].AsString()
		if !ok {
			continue
		}
		res, err := r.Resolve(ctx, s, runID)
		if err != nil {
			return nil, nil, err
		}
		out[key] = schema.String(res.Value)
		for _, ref := range res.References {
			ref.Param = key
			refs = append(refs, ref)
		}
	}
	return out, refs, nil
}

// UnresolvedParams returns the parameter keys holding at least one
// reference that did not resolve.
func UnresolvedParams(refs []Reference) map[string]bool {
	var out map[string]bool
	for _, ref := range refs {
		if ref.Outcome == OutcomeResolved || ref.Param == "" {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[ref.Param] = true
	}
	return out
}

func (r *Resolver) resolveReference(ctx context.Context, raw, runID string) (Reference, string, error) {
	expr := strings.TrimSpace(raw)
	ref := Reference{Raw: expr}

	if expr == "" || expr == "null" {
		ref.Outcome = OutcomeResolved
		return ref, "", nil
	}

	stepID, key, found := strings.Cut(expr, ".")
	stepID, key = strings.TrimSpace(stepID), strings.TrimSpace(key)
	if !found || stepID == "" || key == "" {
		ref.Outcome = OutcomeMalformed
		r.logger.WarnContext(ctx, "malformed template reference",
			slog.String("run_id", runID),
			slog.String("reference", expr),
		)
		return ref, "", nil
	}
	ref.StepID, ref.Key = stepID, key

	row, err := r.reader.LatestRunData(ctx, runID, stepID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			ref.Outcome = OutcomeMissingReference
			r.logger.DebugContext(ctx, "template reference has no recorded data",
				slog.String("run_id", runID),
				slog.String("reference", expr),
			)
			return ref, "", nil
		}
		return ref, "", err
	}

	v, ok := lookupKey(row.Value, key)
	if !ok {
		ref.Outcome = OutcomeMissingReference
		r.logger.DebugContext(ctx, "template reference key not found",
			slog.String("run_id", runID),
			slog.String("reference", expr),
		)
		return ref, "", nil
	}
	ref.Outcome = OutcomeResolved
	return ref, schema.FormatAny(v), nil
}

// lookupKey reads key from a recorded value. The key is tried literally first
// and then as a dotted path (array indices allowed).
func lookupKey(value any, key string) (any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		m, ok = schema.FromAny(value).Native().(map[string]any)
		if !ok {
			return nil, false
		}
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	container := gabs.Wrap(m)
	if !container.ExistsP(key) {
		return nil, false
	}
	return container.Path(key).Data(), true
}
