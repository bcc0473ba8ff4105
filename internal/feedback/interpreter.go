// Package feedback turns free-text user feedback into structured records
// and buffers incoming feedback for the orchestrator's cooperative polls.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/oracle"
	"forgeloop/internal/types"
)

const interpretSystemPrompt = `You convert free-text feedback about a task attempt into structured guidance.
Respond with ONLY JSON:
{"learning_points": ["..."], "revision_directives": ["..."], "quality": <float 0.0-1.0>}
learning_points are durable lessons; revision_directives are concrete changes for the next attempt.
quality reflects how specific and actionable the feedback is: vague or contentless feedback scores low.`

// Interpreter derives FeedbackRecords from raw text.
type Interpreter struct {
	oracle       oracle.Oracle
	qualityFloor float64
	logger       *zap.Logger
}

// NewInterpreter creates a feedback interpreter. Records whose quality
// falls below floor are kept but flagged low-quality.
func NewInterpreter(o oracle.Oracle, floor float64) *Interpreter {
	return &Interpreter{
		oracle:       o,
		qualityFloor: floor,
		logger:       logging.Get(logging.CategoryFeedback),
	}
}

// Interpret converts raw feedback into a structured record. When the
// oracle is unavailable or its answer unparseable, a heuristic pass keeps
// the pipeline moving instead of dropping the feedback.
func (in *Interpreter) Interpret(ctx context.Context, taskDescription, raw string) types.FeedbackRecord {
	rec := types.FeedbackRecord{
		ReceivedAt: time.Now(),
		RawText:    raw,
	}

	parsed, err := in.interpretViaOracle(ctx, taskDescription, raw)
	if err != nil {
		in.logger.Warn("oracle interpretation failed, using heuristic scoring",
			zap.Error(err))
		parsed = heuristicInterpret(raw)
	}

	rec.LearningPoints = parsed.LearningPoints
	rec.RevisionDirectives = parsed.RevisionDirectives
	rec.Quality = types.Clamp01(parsed.Quality)
	rec.LowQuality = rec.Quality < in.qualityFloor

	if rec.LowQuality {
		in.logger.Info("low-quality feedback flagged",
			zap.Float64("quality", rec.Quality),
			zap.Float64("floor", in.qualityFloor))
	}
	return rec
}

type interpretation struct {
	LearningPoints     []string `json:"learning_points"`
	RevisionDirectives []string `json:"revision_directives"`
	Quality            float64  `json:"quality"`
}

func (in *Interpreter) interpretViaOracle(ctx context.Context, taskDescription, raw string) (interpretation, error) {
	prompt := fmt.Sprintf("Task under improvement: %s\n\nFeedback:\n%s", taskDescription, raw)
	resp, err := in.oracle.CompleteWithSystem(ctx, interpretSystemPrompt, prompt)
	if err != nil {
		return interpretation{}, err
	}

	payload := oracle.ExtractJSON(resp)
	if payload == "" {
		return interpretation{}, fmt.Errorf("no JSON in interpretation response")
	}
	var parsed interpretation
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return interpretation{}, fmt.Errorf("failed to decode interpretation: %w", err)
	}
	return parsed, nil
}

// heuristicInterpret scores feedback without the oracle. Specificity is
// approximated by length and line structure; every substantive line
// becomes a learning point, imperative lines double as directives.
func heuristicInterpret(raw string) interpretation {
	var points, directives []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• \t"))
		if len(line) < 4 {
			continue
		}
		points = append(points, line)
		if isImperative(line) {
			directives = append(directives, line)
		}
	}

	quality := 0.0
	trimmed := strings.TrimSpace(raw)
	switch {
	case len(trimmed) >= 200 || len(points) >= 3:
		quality = 0.6
	case len(trimmed) >= 50:
		quality = 0.4
	case len(trimmed) >= 10:
		quality = 0.2
	}
	if len(directives) > 0 && quality < 0.5 {
		quality += 0.1
	}

	return interpretation{
		LearningPoints:     points,
		RevisionDirectives: directives,
		Quality:            quality,
	}
}

var imperativeLeads = []string{
	"use ", "add ", "remove ", "fix ", "avoid ", "include ", "make ",
	"don't ", "do not ", "stop ", "try ", "prefer ", "change ", "rewrite ",
	"shorten ", "expand ", "focus ",
}

func isImperative(line string) bool {
	lower := strings.ToLower(line)
	for _, lead := range imperativeLeads {
		if strings.HasPrefix(lower, lead) {
			return true
		}
	}
	return false
}
