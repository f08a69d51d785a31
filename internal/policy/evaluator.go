// Package policy implements the Policy Evaluator (C4, spec §4.4): a
// sandboxed WebAssembly module, loaded once at process start, evaluated
// per request. The host ABI (an exported `alloc`/`evaluate` pair passing
// JSON through linear memory) mirrors the "list of {result}" evaluation
// shape OPA's own wasm bundles return — see
// Kocoro-lab-Shannon/go/orchestrator/internal/policy/engine.go, which
// evaluates real OPA/rego bundles and documents that exact result shape.
// BudgetGuard does not link OPA's Go runtime; it hosts that ABI directly
// over tetratelabs/wazero (github.com/tetratelabs/wazero), a pure-Go,
// embeddable WebAssembly runtime with no cgo dependency.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Input is the open object passed to evaluate() (spec §4.4): at minimum
// {tenant, route, usage, budget, budgets[], time}.
type Input map[string]interface{}

type resultEnvelope struct {
	Result interface{} `json:"result"`
}

// Evaluator holds the compiled module as a shared immutable handle.
// Concurrent Evaluate calls are safe: each call instantiates a fresh
// guest instance from the shared compiled code (spec §9: "the policy
// module's host API is re-entrant for pure evaluation").
type Evaluator struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	mu sync.Mutex // guards instantiate+call; wazero module instances are not safe for concurrent exported-function calls
}

// Load compiles the wasm module at path once at startup.
func Load(ctx context.Context, path string) (*Evaluator, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read wasm module: %w", err)
	}

	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("policy: instantiate wasi: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("policy: compile module: %w", err)
	}

	return &Evaluator{runtime: runtime, compiled: compiled}, nil
}

func (e *Evaluator) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Evaluate runs the policy module against input and returns
// Boolean(result[0].result) per spec §4.4. Empty results deny. A
// non-array input.budgets surfaces a *ValidationError the caller should
// treat as a 500.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, error) {
	if budgets, ok := input["budgets"]; ok {
		kind := reflect.ValueOf(budgets).Kind()
		if kind != reflect.Slice && kind != reflect.Array {
			return false, &ValidationError{Message: "input.budgets must be an array"}
		}
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return false, &ValidationError{Message: fmt.Sprintf("failed to marshal policy input: %v", err)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, wazero.NewModuleConfig())
	if err != nil {
		return false, fmt.Errorf("policy: instantiate module: %w", err)
	}
	defer mod.Close(ctx)

	alloc := mod.ExportedFunction("alloc")
	evaluate := mod.ExportedFunction("evaluate")
	if alloc == nil || evaluate == nil {
		return false, fmt.Errorf("policy: module does not export alloc/evaluate")
	}

	inLen := uint64(len(inputJSON))
	allocRes, err := alloc.Call(ctx, inLen)
	if err != nil {
		return false, fmt.Errorf("policy: alloc failed: %w", err)
	}
	inPtr := uint32(allocRes[0])

	mem := mod.Memory()
	if !mem.Write(inPtr, inputJSON) {
		return false, fmt.Errorf("policy: failed to write input into module memory")
	}

	packed, err := evaluate.Call(ctx, uint64(inPtr), inLen)
	if err != nil {
		return false, fmt.Errorf("policy: evaluate failed: %w", err)
	}
	outPtr := uint32(packed[0] >> 32)
	outLen := uint32(packed[0])

	outBytes, ok := mem.Read(outPtr, outLen)
	if !ok {
		return false, fmt.Errorf("policy: failed to read output from module memory")
	}

	var results []resultEnvelope
	if err := json.Unmarshal(outBytes, &results); err != nil {
		return false, &ValidationError{Message: fmt.Sprintf("malformed policy output: %v", err)}
	}
	if len(results) == 0 {
		return false, nil
	}

	return asBool(results[0].Result), nil
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// ValidationError signals malformed evaluator input (spec §4.4, §7).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
