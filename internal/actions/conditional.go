package actions

import (
	"context"
	"strconv"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// Comparison operators understood by the conditional action.
const (
	OpEquals             = "equals"
	OpNotEquals          = "notEquals"
	OpGreaterThan        = "greaterThan"
	OpLessThan           = "lessThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpLessThanOrEqual    = "lessThanOrEqual"
	OpContains           = "contains"
	OpNotContains        = "notContains"
	OpStartsWith         = "startsWith"
	OpEndsWith           = "endsWith"
)

type conditionalAction struct{}

// NewConditionalAction returns the conditional action, which compares two
// operands and runs the matching branch.
func NewConditionalAction() Action { return &conditionalAction{} }

func (a *conditionalAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeyConditional, "Condition",
		"Compares two operands and runs the true or false branch.",
		[]schema.Parameter{
			{Key: "leftOperand", Title: "Left operand", DataType: schema.DataTypeAny},
			{Key: "operator", Title: "Operator", DataType: schema.DataTypeString, Default: OpEquals},
			{Key: "rightOperand", Title: "Right operand", DataType: schema.DataTypeAny},
			{Key: "trueActionStepIds", Title: "When true", DataType: schema.DataTypeAny},
			{Key: "falseActionStepIds", Title: "When false", DataType: schema.DataTypeAny},
		},
		[]schema.Output{
			{Key: "result", Title: "Result", DataType: schema.DataTypeBoolean},
			{Key: "results", Title: "Branch results", DataType: schema.DataTypeArray},
		},
	)
}

func (a *conditionalAction) Execute(ctx context.Context, inv Invocation) schema.ActionResult {
	left, _ := inv.Params.Get("leftOperand")
	right, _ := inv.Params.Get("rightOperand")
	op := inv.Params.String("operator")

	outcome := Compare(op, left, right)
	if !knownOperator(op) {
		inv.logger().Warn("unknown operator, comparing for equality", "operator", op, "step_id", inv.StepID)
	}

	var ids []string
	if outcome {
		ids = inv.stepIDs("trueActionStepIds", "true")
	} else {
		ids = inv.stepIDs("falseActionStepIds", "false")
	}
	inv.emit(ctx, schema.EventConditionEvaluated, map[string]any{"result": outcome, "branch_size": len(ids)})

	results, failed := inv.runSteps(ctx, ids)
	data := map[string]any{"result": outcome, "results": nonNilResults(results)}
	if failed != nil {
		failed.Data = data
		return *failed
	}
	return schema.Completed(data)
}

// Compare applies op to left and right. An unknown operator compares for
// equality. Operands that are both numeric compare as numbers, otherwise as
// text.
func Compare(op string, left, right schema.Value) bool {
	switch op {
	case OpNotEquals:
		return !equal(left, right)
	case OpGreaterThan:
		return order(left, right) > 0
	case OpLessThan:
		return order(left, right) < 0
	case OpGreaterThanOrEqual:
		return order(left, right) >= 0
	case OpLessThanOrEqual:
		return order(left, right) <= 0
	case OpContains:
		return contains(left, right)
	case OpNotContains:
		return !contains(left, right)
	case OpStartsWith:
		return strings.HasPrefix(left.Text(), right.Text())
	case OpEndsWith:
		return strings.HasSuffix(left.Text(), right.Text())
	default:
		return equal(left, right)
	}
}

func knownOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual,
		OpLessThanOrEqual, OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

func numeric(v schema.Value) (float64, bool) {
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	if s, ok := v.AsString(); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func equal(left, right schema.Value) bool {
	if l, ok := numeric(left); ok {
		if r, ok := numeric(right); ok {
			return l == r
		}
	}
	return left.Text() == right.Text()
}

func order(left, right schema.Value) int {
	if l, ok := numeric(left); ok {
		if r, ok := numeric(right); ok {
			switch {
			case l < r:
				return -1
			case l > r:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(left.Text(), right.Text())
}

func contains(left, right schema.Value) bool {
	if items, ok := left.AsArray(); ok {
		for _, item := range items {
			if equal(item, right) {
				return true
			}
		}
		return false
	}
	if obj, ok := left.AsObject(); ok {
		_, found := obj[right.Text()]
		return found
	}
	return strings.Contains(left.Text(), right.Text())
}

func nonNilResults(results []schema.ActionResult) []schema.ActionResult {
	if results == nil {
		return []schema.ActionResult{}
	}
	return results
}
