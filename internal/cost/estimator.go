// Package cost implements the Cost Estimator (C5, spec §4.5):
// byte-pair-encoding token counting and USD pricing, including the
// actual-usage-wins rule and Google's tiered gemini-2.5-pro remap. No
// direct teacher analog exists (pllm has no standalone cost estimator);
// grounded instead on pkoukk/tiktoken-go, the BPE tokenizer library
// found alongside other LLM-gateway repos in the retrieval pack.
package cost

import (
	"context"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/shopspring/decimal"

	"github.com/budgetguard/budgetguard/internal/catalog"
)

// Message mirrors the OpenAI chat-message shape the estimator budgets
// framing tokens for.
type Message struct {
	Role    string
	Content string
	Name    string
}

// ActualUsage is the provider-reported usage block; when present it wins
// over BPE estimation entirely (spec §4.5).
type ActualUsage struct {
	PromptTokens int
	TotalTokens  int
}

// Request is the estimate() input (spec §4.5).
type Request struct {
	Model       string
	Messages    []Message
	Completion  string
	ActualUsage *ActualUsage
}

// Result is the estimate() output.
type Result struct {
	PromptTokens     int
	CompletionTokens int
	USD              float64
}

const (
	fallbackInputPrice  = 1.0
	fallbackOutputPrice = 2.0

	geminiTieredModel    = "gemini-2.5-pro"
	geminiLowModel       = "gemini-2.5-pro-low"
	geminiHighModel      = "gemini-2.5-pro-high"
	geminiTierThreshold  = 200_000
)

type Estimator struct {
	catalog *catalog.Catalog

	mu          sync.Mutex
	encCache    map[string]*tiktoken.Tiktoken
	defaultEnc  *tiktoken.Tiktoken
}

func New(cat *catalog.Catalog) *Estimator {
	return &Estimator{catalog: cat, encCache: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate computes token counts and USD cost per spec §4.5.
func (e *Estimator) Estimate(ctx context.Context, req Request) (Result, error) {
	var promptTok, compTok, total int
	if req.ActualUsage != nil {
		promptTok = req.ActualUsage.PromptTokens
		compTok = req.ActualUsage.TotalTokens - req.ActualUsage.PromptTokens
		total = req.ActualUsage.TotalTokens
	} else {
		promptTok = e.countMessages(req.Model, req.Messages)
		compTok = e.countText(req.Model, req.Completion)
		total = promptTok + compTok
	}

	// Tiering must use the real size of this call, pre- or post-call
	// alike (spec §4.5: "pre- and post-call"): the BPE-estimated total
	// stands in for actual usage until the upstream response is in hand.
	effectiveModel := e.effectiveModel(req.Model, total)

	inputPrice, _, outputPrice := e.pricesFor(ctx, effectiveModel)

	// Priced in decimal rather than float64: token counts multiplied
	// against a per-million-token rate before dividing can otherwise
	// accumulate rounding error the caller then compounds across every
	// call a tenant makes in a period.
	promptCost := decimal.NewFromInt(int64(promptTok)).Mul(decimal.NewFromFloat(inputPrice))
	compCost := decimal.NewFromInt(int64(compTok)).Mul(decimal.NewFromFloat(outputPrice))
	usd, _ := promptCost.Add(compCost).Div(decimal.NewFromInt(1_000_000)).Float64()

	return Result{PromptTokens: promptTok, CompletionTokens: compTok, USD: usd}, nil
}

// effectiveModel applies the Google tiered gemini-2.5-pro remap (spec
// §4.5): totalTokens <= 200,000 -> "-low" pricing, else "-high".
func (e *Estimator) effectiveModel(model string, totalTokens int) string {
	if model != geminiTieredModel {
		return model
	}
	if totalTokens <= geminiTierThreshold {
		return geminiLowModel
	}
	return geminiHighModel
}

func (e *Estimator) pricesFor(ctx context.Context, model string) (input, cachedInput, output float64) {
	if e.catalog == nil {
		return fallbackInputPrice, 0, fallbackOutputPrice
	}
	entry, err := e.catalog.Lookup(ctx, model)
	if err != nil || entry == nil {
		return fallbackInputPrice, 0, fallbackOutputPrice
	}
	return entry.InputPrice, entry.CachedInputPrice, entry.OutputPrice
}

// countMessages budgets 4 tokens per message (role/content framing) +
// tokens(role) + tokens(content) + (tokens(name) - 1 if name set), plus
// 2 tokens of assistant priming (spec §4.5).
func (e *Estimator) countMessages(model string, messages []Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += 4
		total += e.countText(model, m.Role)
		total += e.countText(model, m.Content)
		if m.Name != "" {
			total += e.countText(model, m.Name) - 1
		}
	}
	total += 2
	return total
}

func (e *Estimator) countText(model, text string) int {
	if text == "" {
		return 0
	}
	enc := e.encodingFor(model)
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encCache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if e.defaultEnc == nil {
			e.defaultEnc, _ = tiktoken.GetEncoding("cl100k_base")
		}
		enc = e.defaultEnc
	}
	e.encCache[model] = enc
	return enc
}
