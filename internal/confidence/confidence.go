// Package confidence scores execution outcomes against their task. The
// evaluator fails closed: an answer it cannot parse scores 0.0 and flags
// the parse failure, never a guess.
package confidence

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/oracle"
	"forgeloop/internal/types"
)

// UnparseableRationale marks evaluations the parser could not read.
const UnparseableRationale = "unparseable-evaluation"

const evalSystemPrompt = `You are a strict quality evaluator. Given a task and the result of an attempt, judge how confident you are that the result fully satisfies the task.
Respond with ONLY JSON: {"confidence": <float 0.0-1.0>, "rationale": "<one sentence>"}.
Be conservative: partial or unverifiable results score low.`

// Evaluation is a scored judgment of one execution outcome.
type Evaluation struct {
	Score     float64
	Rationale string
}

// Evaluator scores outcomes via the oracle.
type Evaluator struct {
	oracle oracle.Oracle
	logger *zap.Logger
}

// NewEvaluator creates a confidence evaluator.
func NewEvaluator(o oracle.Oracle) *Evaluator {
	return &Evaluator{oracle: o, logger: logging.Get(logging.CategoryConfidence)}
}

// Evaluate scores one outcome. Oracle transport failures return an error
// and no evaluation. A response that cannot be parsed returns the
// fail-closed evaluation (score 0.0, rationale flags the parse failure)
// together with a non-fatal classified error so callers can count it.
func (e *Evaluator) Evaluate(ctx context.Context, task types.Task, outcome types.ExecutionOutcome) (Evaluation, error) {
	result := outcome.Result
	if !outcome.Success {
		result = "(execution failed"
		if outcome.Err != nil {
			result += ": " + outcome.Err.Error()
		}
		result += ")"
	}

	prompt := fmt.Sprintf("Task: %s\n\nResult of attempt:\n%s", task.Description, result)
	raw, err := e.oracle.CompleteWithSystem(ctx, evalSystemPrompt, prompt)
	if err != nil {
		return Evaluation{}, fmt.Errorf("confidence evaluation oracle call failed: %w", err)
	}

	eval, ok := parseEvaluation(raw)
	if !ok {
		e.logger.Warn("evaluation response unparseable, failing closed",
			zap.String("task_id", task.ID),
			zap.Int("response_bytes", len(raw)))
		return Evaluation{Score: 0.0, Rationale: UnparseableRationale},
			types.Classify(types.KindEvaluationUnparseable, "evaluation response was not parseable", nil)
	}

	eval.Score = types.Clamp01(eval.Score)
	e.logger.Debug("outcome evaluated",
		zap.String("task_id", task.ID),
		zap.Float64("confidence", eval.Score))
	return eval, nil
}

// scoreRe matches "confidence: 0.82", "confidence = 0.82", and "0.82/1".
var scoreRe = regexp.MustCompile(`(?i)(?:confidence\s*[:=]\s*|\b)([01](?:\.[0-9]+)?)(?:\s*/\s*1(?:\.0)?)?\b`)

// parseEvaluation tries the structured JSON form first, then one regex
// pass for a bare score. Reports false when neither yields a score.
func parseEvaluation(raw string) (Evaluation, bool) {
	if payload := oracle.ExtractJSON(raw); payload != "" {
		var parsed struct {
			Confidence *float64 `json:"confidence"`
			Rationale  string   `json:"rationale"`
		}
		if err := json.Unmarshal([]byte(payload), &parsed); err == nil && parsed.Confidence != nil {
			return Evaluation{Score: *parsed.Confidence, Rationale: parsed.Rationale}, true
		}
	}

	for _, m := range scoreRe.FindAllStringSubmatch(raw, 4) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			return Evaluation{Score: v, Rationale: "score recovered from unstructured response"}, true
		}
	}

	return Evaluation{}, false
}
