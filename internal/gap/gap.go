// Package gap infers the capabilities a task requires and diffs them
// against the registry to find what must be synthesized before execution.
package gap

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/oracle"
	"forgeloop/internal/types"
)

const analyzeSystemPrompt = `You analyze task descriptions and list the distinct functional capabilities required to complete them.
Respond with ONLY a JSON array of objects: [{"name": "snake_case_name", "description": "one sentence"}].
Names must be short snake_case identifiers. List only capabilities the task genuinely needs.`

// Analyzer finds capability gaps for a task.
type Analyzer struct {
	oracle              oracle.Oracle
	similarityThreshold float64
	logger              *zap.Logger
}

// NewAnalyzer creates a gap analyzer. similarityThreshold is the minimum
// token overlap for a required capability to count as covered by an
// existing module; anything at or below it stays a gap.
func NewAnalyzer(o oracle.Oracle, similarityThreshold float64) *Analyzer {
	return &Analyzer{
		oracle:              o,
		similarityThreshold: similarityThreshold,
		logger:              logging.Get(logging.CategoryGap),
	}
}

// Analyze asks the oracle which capabilities the task needs and returns
// the ones the registry snapshot does not cover, deduplicated, in the
// order the oracle listed them. Uncertain matches are kept as gaps.
func (a *Analyzer) Analyze(ctx context.Context, task types.Task, available []types.CapabilitySummary) ([]types.CapabilityGap, error) {
	prompt := fmt.Sprintf("Task: %s\n\nList the functional capabilities required.", task.Description)

	raw, err := a.oracle.CompleteWithSystem(ctx, analyzeSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("gap analysis oracle call failed: %w", err)
	}

	required, err := parseRequirements(raw)
	if err != nil {
		return nil, types.Classify(types.KindGapUnparseable,
			"gap analysis response was not parseable", err)
	}

	var gaps []types.CapabilityGap
	seen := make(map[string]bool)
	for _, req := range required {
		key := normalizeTokens(req.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		best, score := a.bestMatch(req, available)
		if score > a.similarityThreshold {
			a.logger.Debug("capability covered",
				zap.String("required", req.Name),
				zap.String("matched", best),
				zap.Float64("similarity", score))
			continue
		}
		if score > 0 {
			// Partial overlap is not coverage; better a redundant module
			// than a silently missing capability.
			a.logger.Info("ambiguous capability match kept as gap",
				zap.String("required", req.Name),
				zap.String("closest", best),
				zap.Float64("similarity", score))
		}
		req.RequiredBy = task.ID
		gaps = append(gaps, req)
	}

	a.logger.Info("gap analysis complete",
		zap.String("task_id", task.ID),
		zap.Int("required", len(required)),
		zap.Int("gaps", len(gaps)))
	return gaps, nil
}

// bestMatch returns the closest registered capability and its similarity.
func (a *Analyzer) bestMatch(req types.CapabilityGap, available []types.CapabilitySummary) (string, float64) {
	bestName := ""
	bestScore := 0.0
	for _, avail := range available {
		candidates := append([]string{avail.Name}, avail.Aliases...)
		for _, cand := range candidates {
			score := tokenSimilarity(req.Name, cand)
			if descScore := tokenSimilarity(req.Description, avail.Description); descScore > score {
				score = descScore
			}
			if score > bestScore {
				bestScore = score
				bestName = avail.Name
			}
		}
	}
	return bestName, bestScore
}

func parseRequirements(raw string) ([]types.CapabilityGap, error) {
	payload := oracle.ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var items []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("failed to decode capability list: %w", err)
	}

	out := make([]types.CapabilityGap, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		out = append(out, types.CapabilityGap{
			Name:        name,
			Description: strings.TrimSpace(item.Description),
		})
	}
	return out, nil
}

// tokenSimilarity computes Jaccard similarity over lowercased word tokens.
func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '.' || r == ','
	}) {
		if len(tok) > 1 {
			out[tok] = true
		}
	}
	return out
}

func normalizeTokens(s string) string {
	toks := make([]string, 0, 4)
	for tok := range tokenSet(s) {
		toks = append(toks, tok)
	}
	if len(toks) == 0 {
		return strings.ToLower(strings.TrimSpace(s))
	}
	// Stable key independent of token order.
	sort.Strings(toks)
	return strings.Join(toks, "|")
}
