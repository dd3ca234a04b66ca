package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// Loop types understood by the loop action.
const (
	LoopFor    = "for"
	LoopWhile  = "while"
	LoopUntil  = "until"
	LoopNumber = "number"
)

// IterationVariable is the variable key a loop records for each iteration.
// Its value is {"index": n, "item": current item}, so body steps can reference
// {{loopStepId.item}}.
const IterationVariable = "iteration"

type loopAction struct {
	maxIterations int
}

// NewLoopAction returns the loop action. maxIterations bounds while loops;
// zero or less means DefaultMaxLoopIterations.
func NewLoopAction(maxIterations int) Action {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxLoopIterations
	}
	return &loopAction{maxIterations: maxIterations}
}

func (a *loopAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeyLoop, "Loop",
		"Runs the body steps once per item, a fixed number of times, or while a condition holds.",
		[]schema.Parameter{
			{Key: "loopType", Title: "Loop type", DataType: schema.DataTypeString, Default: LoopFor,
				Validation: json.RawMessage(`{"enum":["for","while","until","number"]}`)},
			{Key: "loopData", Title: "Loop data", DataType: schema.DataTypeAny},
			{Key: "actionStepIds", Title: "Body", DataType: schema.DataTypeAny},
		},
		[]schema.Output{
			{Key: "results", Title: "Results", DataType: schema.DataTypeArray},
		},
	)
}

func (a *loopAction) Execute(ctx context.Context, inv Invocation) schema.ActionResult {
	loopType := inv.Params.String("loopType")
	if loopType == "" {
		loopType = LoopFor
	}
	data, _ := inv.Params.Get("loopData")
	body := inv.stepIDs("actionStepIds", "body")

	switch loopType {
	case LoopFor:
		items, err := iterationItems(data)
		if err != nil {
			return schema.FailedFrom(err)
		}
		return a.runItems(ctx, inv, body, items)
	case LoopNumber:
		n, ok := numeric(data)
		if !ok {
			return schema.Failed(schema.ErrInvalidParameters, "number loop requires numeric loopData", nil)
		}
		return a.runItems(ctx, inv, body, countItems(n))
	case LoopWhile:
		return a.runWhile(ctx, inv, body, conditionHolds(data))
	case LoopUntil:
		return schema.Completed(loopOutput(nil))
	default:
		return schema.Failed(schema.ErrInvalidParameters, fmt.Sprintf("unknown loop type %q", loopType), nil)
	}
}

func (a *loopAction) runItems(ctx context.Context, inv Invocation, body []string, items []schema.Value) schema.ActionResult {
	var all []schema.ActionResult
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return schema.ActionResult{Status: schema.StepStatusFailed, Error: schema.ToActionError(err), Data: loopOutput(all)}
		}
		results, failed := a.iterate(ctx, inv, body, i, item)
		all = append(all, results...)
		if failed != nil {
			failed.Data = loopOutput(all)
			return *failed
		}
	}
	return schema.Completed(loopOutput(all))
}

// runWhile evaluates the condition once; a true condition keeps looping
// until the iteration limit or context cancellation stops it.
func (a *loopAction) runWhile(ctx context.Context, inv Invocation, body []string, holds bool) schema.ActionResult {
	var all []schema.ActionResult
	if !holds {
		return schema.Completed(loopOutput(all))
	}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return schema.ActionResult{Status: schema.StepStatusFailed, Error: schema.ToActionError(err), Data: loopOutput(all)}
		}
		if i >= a.maxIterations {
			return schema.Failed(schema.ErrLoopLimitExceeded,
				fmt.Sprintf("while loop exceeded %d iterations", a.maxIterations), loopOutput(all))
		}
		results, failed := a.iterate(ctx, inv, body, i, schema.Number(float64(i)))
		all = append(all, results...)
		if failed != nil {
			failed.Data = loopOutput(all)
			return *failed
		}
	}
}

// loopOutput is the loop step's data: the concatenated body results of every
// iteration under the declared "results" output key.
func loopOutput(all []schema.ActionResult) map[string]any {
	return map[string]any{"results": nonNilResults(all)}
}

func (a *loopAction) iterate(ctx context.Context, inv Invocation, body []string, index int, item schema.Value) ([]schema.ActionResult, *schema.ActionResult) {
	if inv.Variables != nil {
		current := schema.Object(map[string]schema.Value{
			"index": schema.Number(float64(index)),
			"item":  item,
		})
		if err := inv.Variables.RecordVariable(ctx, inv.RunID, inv.StepID, IterationVariable, current, schema.DataTypeObject); err != nil {
			failed := schema.FailedFrom(err)
			return nil, &failed
		}
	}
	inv.emit(ctx, schema.EventLoopIteration, map[string]any{"index": index})
	return inv.runSteps(ctx, body)
}

// iterationItems expands for-loop data: a number n yields 0..n-1, an array
// its elements, an object one {"key","value"} pair per key in key order.
// Strings produced by templates are parsed as a number or JSON first.
func iterationItems(data schema.Value) ([]schema.Value, error) {
	switch data.Kind() {
	case schema.KindNull:
		return nil, nil
	case schema.KindNumber:
		n, _ := data.AsNumber()
		return countItems(n), nil
	case schema.KindArray:
		items, _ := data.AsArray()
		return items, nil
	case schema.KindObject:
		obj, _ := data.AsObject()
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]schema.Value, 0, len(keys))
		for _, k := range keys {
			items = append(items, schema.Object(map[string]schema.Value{
				"key":   schema.String(k),
				"value": obj[k],
			}))
		}
		return items, nil
	case schema.KindString:
		s, _ := data.AsString()
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return countItems(n), nil
		}
		var generic any
		if err := json.Unmarshal([]byte(s), &generic); err == nil {
			decoded := schema.FromAny(generic)
			if k := decoded.Kind(); k == schema.KindArray || k == schema.KindObject {
				return iterationItems(decoded)
			}
		}
	}
	return nil, schema.NewErrorf(schema.ErrInvalidParameters, "loopData of kind %s cannot be iterated", data.Kind())
}

func countItems(n float64) []schema.Value {
	if math.IsNaN(n) || n <= 0 {
		return nil
	}
	count := int(math.Floor(n))
	items := make([]schema.Value, count)
	for i := range items {
		items[i] = schema.Number(float64(i))
	}
	return items
}

// conditionHolds interprets while-loop data. Strings such as "false" or "0"
// produced by templates count as false.
func conditionHolds(v schema.Value) bool {
	if s, ok := v.AsString(); ok {
		s = strings.TrimSpace(s)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n != 0
		}
	}
	return v.Truthy()
}
