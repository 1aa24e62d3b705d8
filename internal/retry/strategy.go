// Package retry recovers failed image generations by applying an ordered
// chain of strategies: simplify the prompt, substitute a fallback model,
// relax generation parameters, and finally substitute a pre-approved stock
// artifact. A per-provider circuit breaker lets the chain skip providers
// that keep failing.
package retry

import (
	"strings"

	"github.com/sells-group/assetsmith/internal/model"
)

// Plan is the full set of parameters for one synthesis attempt. Strategies
// rewrite plans; rewrites compound, so a simplified prompt survives a later
// model substitution.
type Plan struct {
	Prompt  string
	Model   string
	Size    string
	Quality string
}

// Strategy proposes a rewritten plan after a failure. ok is false when the
// strategy has nothing left to change.
type Strategy interface {
	Name() string
	Rewrite(plan Plan, req model.GenerationRequest) (Plan, bool)
}

// SimplifyPrompt shortens an overlong or over-specified prompt and retries
// the same model. Providers reject or mangle prompts past a few sentences
// far more often than short ones.
type SimplifyPrompt struct {
	// MaxWords bounds the rewritten prompt. Defaults to 40.
	MaxWords int
}

func (s *SimplifyPrompt) Name() string { return "simplify_prompt" }

func (s *SimplifyPrompt) Rewrite(plan Plan, req model.GenerationRequest) (Plan, bool) {
	maxWords := s.MaxWords
	if maxWords <= 0 {
		maxWords = 40
	}

	simplified := firstSentences(plan.Prompt, maxWords)
	if simplified == plan.Prompt || simplified == "" {
		// Already short; fall back to the raw seed description when the
		// crafted prompt itself may be the problem.
		seed := strings.TrimSpace(req.SeedDescription)
		if seed == "" || seed == plan.Prompt {
			return plan, false
		}
		simplified = string(req.Kind) + " of " + seed
	}
	plan.Prompt = simplified
	return plan, true
}

// firstSentences keeps whole sentences up to the word budget, or a hard word
// cut when the first sentence alone is too long.
func firstSentences(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}

	var b strings.Builder
	count := 0
	for _, sentence := range strings.SplitAfter(text, ". ") {
		n := len(strings.Fields(sentence))
		if count > 0 && count+n > maxWords {
			break
		}
		b.WriteString(sentence)
		count += n
		if count >= maxWords {
			break
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		out = strings.Join(words[:maxWords], " ")
	}
	return out
}

// FallbackModel substitutes one alternate synthesis model from the
// configured fallback list. The chain holds one FallbackModel per entry so
// the list is walked in declared order.
type FallbackModel struct {
	ModelID string
}

func (s *FallbackModel) Name() string { return "fallback_model:" + s.ModelID }

func (s *FallbackModel) Rewrite(plan Plan, _ model.GenerationRequest) (Plan, bool) {
	if plan.Model == s.ModelID {
		return plan, false
	}
	plan.Model = s.ModelID
	return plan, true
}

// AdjustParams steps generation parameters down one notch: quality first,
// then size. Cheaper, smaller renders succeed where premium ones time out.
type AdjustParams struct{}

func (s *AdjustParams) Name() string { return "adjust_params" }

var qualityLadder = map[string]string{
	"high":     "medium",
	"hd":       "standard",
	"medium":   "low",
	"standard": "low",
}

func (s *AdjustParams) Rewrite(plan Plan, _ model.GenerationRequest) (Plan, bool) {
	if lower, ok := qualityLadder[strings.ToLower(plan.Quality)]; ok {
		plan.Quality = lower
		return plan, true
	}
	if plan.Size != "" && plan.Size != "1024x1024" {
		plan.Size = "1024x1024"
		return plan, true
	}
	return plan, false
}

// StockArtifact terminates the chain by substituting a generic pre-approved
// file for the asset kind. It performs no provider call and costs nothing.
type StockArtifact struct {
	// Paths maps asset kind to a pre-approved artifact file.
	Paths map[string]string
}

func (s *StockArtifact) Name() string { return "stock_artifact" }

// Rewrite never applies; the runner special-cases StockArtifact and serves
// the file directly.
func (s *StockArtifact) Rewrite(plan Plan, _ model.GenerationRequest) (Plan, bool) {
	return plan, false
}

// ArtifactFor returns the stock file for the request's kind, if configured.
func (s *StockArtifact) ArtifactFor(req model.GenerationRequest) (string, bool) {
	path, ok := s.Paths[string(req.Kind)]
	return path, ok && path != ""
}
