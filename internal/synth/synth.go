// Package synth turns capability gaps into integrated modules: oracle code
// generation, AST validation, interpreter smoke evaluation, then a
// transactional registry install. A failure at any stage rejects the
// module and leaves the gap open.
package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/oracle"
	"forgeloop/internal/registry"
	"forgeloop/internal/types"
)

const synthSystemPrompt = `You write single-file Go capability modules.
Rules:
- Declare package capability.
- Define exactly one entry function: func Run(input string) (string, error).
- Import only the Go standard library. Never import os, os/exec, net, net/http, syscall, unsafe, or plugin.
- Helper functions are allowed. No global state, no goroutines that outlive Run.
Respond with ONLY a Go code block.`

// Synthesizer generates and integrates capability modules.
type Synthesizer struct {
	oracle     oracle.Oracle
	registry   *registry.Registry
	modulesDir string
	logger     *zap.Logger
}

// New creates a synthesizer. modulesDir receives a copy of each integrated
// module's source for inspection; empty disables the copies.
func New(o oracle.Oracle, reg *registry.Registry, modulesDir string) *Synthesizer {
	return &Synthesizer{
		oracle:     o,
		registry:   reg,
		modulesDir: modulesDir,
		logger:     logging.Get(logging.CategorySynth),
	}
}

// Synthesize fills one capability gap. On success the returned module is
// integrated in the registry. On validation or smoke failure the module is
// recorded as rejected and the error is classified as a synthesis
// validation failure so the orchestrator can retry in a later cycle.
func (s *Synthesizer) Synthesize(ctx context.Context, gap types.CapabilityGap, cycleIndex int) (*types.GeneratedModule, error) {
	if s.registry.Has(gap.Name) {
		return nil, types.Classify(types.KindSynthesisValidation,
			fmt.Sprintf("capability %q already integrated; supersession must be explicit", gap.Name), nil)
	}

	prompt := fmt.Sprintf("Capability name: %s\nWhat it must do: %s\n\nWrite the module.",
		gap.Name, gap.Description)
	raw, err := s.oracle.CompleteWithSystem(ctx, synthSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("module generation oracle call failed: %w", err)
	}

	src := oracle.ExtractCodeBlock(raw, "go")
	mod := &types.GeneratedModule{
		Name:           sanitizeName(gap.Name),
		Description:    gap.Description,
		Source:         src,
		Status:         types.ModulePending,
		CreatedInCycle: cycleIndex,
		CreatedAt:      time.Now(),
	}

	if _, err := validateSource(src); err != nil {
		return s.reject(mod, fmt.Sprintf("validation failed: %v", err), err)
	}
	if err := smoke(ctx, src); err != nil {
		return s.reject(mod, fmt.Sprintf("smoke evaluation failed: %v", err), err)
	}

	if err := s.registry.Integrate(mod); err != nil {
		return nil, fmt.Errorf("failed to integrate module %q: %w", mod.Name, err)
	}
	s.writeSource(mod)

	s.logger.Info("module synthesized",
		zap.String("module", mod.Ref()),
		zap.Int("cycle", cycleIndex),
		zap.Int("source_bytes", len(src)))
	return mod, nil
}

func (s *Synthesizer) reject(mod *types.GeneratedModule, reason string, cause error) (*types.GeneratedModule, error) {
	if err := s.registry.RecordRejected(mod, reason); err != nil {
		s.logger.Warn("failed to record rejected module",
			zap.String("module", mod.Name),
			zap.Error(err))
	}
	s.logger.Warn("module rejected",
		zap.String("module", mod.Name),
		zap.String("reason", reason))
	return nil, types.Classify(types.KindSynthesisValidation, reason, cause)
}

// writeSource mirrors the integrated source to the modules directory.
// Failure here is logged, not fatal; the registry holds the authoritative
// copy.
func (s *Synthesizer) writeSource(mod *types.GeneratedModule) {
	if s.modulesDir == "" {
		return
	}
	if err := os.MkdirAll(s.modulesDir, 0755); err != nil {
		s.logger.Warn("failed to create modules directory", zap.Error(err))
		return
	}
	path := filepath.Join(s.modulesDir, fmt.Sprintf("%s_v%d.go", mod.Name, mod.Version))
	if err := os.WriteFile(path, []byte(mod.Source), 0644); err != nil {
		s.logger.Warn("failed to write module source",
			zap.String("path", path),
			zap.Error(err))
	}
}

// sanitizeName coerces an oracle-proposed capability name into a stable
// snake_case identifier.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '_' || r == '-' || r == ' ':
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "capability"
	}
	return out
}
