package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEvaluateRejectsNonArrayBudgets exercises the input-validation guard
// that runs before the evaluator touches the wasm module (spec §4.4: "If
// input.budgets is not an array, the evaluator surfaces a structured
// validation error"). It does not require a loaded module.
func TestEvaluateRejectsNonArrayBudgets(t *testing.T) {
	e := &Evaluator{}
	_, err := e.Evaluate(context.Background(), Input{"budgets": "not-an-array"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAsBool(t *testing.T) {
	require.True(t, asBool(true))
	require.False(t, asBool(false))
	require.False(t, asBool(nil))
	require.False(t, asBool("true"))
	require.False(t, asBool(1.0))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Message: "boom"}
	require.Equal(t, "boom", err.Error())
}
