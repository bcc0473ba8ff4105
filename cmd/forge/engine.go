package main

import (
	"context"
	"fmt"
	"os"

	"forgeloop/internal/config"
	"forgeloop/internal/confidence"
	"forgeloop/internal/cycle"
	"forgeloop/internal/executor"
	"forgeloop/internal/feedback"
	"forgeloop/internal/gap"
	"forgeloop/internal/ledger"
	"forgeloop/internal/oracle"
	"forgeloop/internal/registry"
	"forgeloop/internal/synth"
)

// engine bundles the wired components behind the CLI commands.
type engine struct {
	cfg         *config.Config
	registry    *registry.Registry
	ledger      *ledger.Ledger
	manager     *cycle.Manager
	channel     *feedback.Channel
	interpreter *feedback.Interpreter
}

// buildEngine loads config and wires the full improvement pipeline.
func buildEngine(ctx context.Context) (*engine, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}

	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.Oracle.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gemini, err := oracle.NewGemini(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model)
	if err != nil {
		return nil, err
	}
	timed := oracle.NewTimed(gemini, cfg.GetCallTimeout())

	reg, err := registry.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(cfg.Store.DatabasePath)
	if err != nil {
		reg.Close()
		return nil, err
	}

	channel, err := feedback.NewChannel(cfg.Feedback.InboxDir)
	if err != nil {
		reg.Close()
		led.Close()
		return nil, err
	}

	interp := feedback.NewInterpreter(timed, cfg.Feedback.QualityFloor)
	deps := cycle.Deps{
		Gaps:         gap.NewAnalyzer(timed, cfg.Improvement.SimilarityThreshold),
		Synth:        synth.New(timed, reg, cfg.Store.ModulesDir),
		Executor:     executor.NewAdapter(executor.NewOracleExecutor(timed)),
		Evaluator:    confidence.NewEvaluator(timed),
		Capabilities: reg,
		Ledger:       led,
	}
	manager := cycle.NewManager(deps, interp,
		cycle.StaticProfile(cfg.Improvement.MaxConcurrentChains))

	return &engine{
		cfg:         cfg,
		registry:    reg,
		ledger:      led,
		manager:     manager,
		channel:     channel,
		interpreter: interp,
	}, nil
}

// openStores opens only the persistence layer, for inspection commands
// that never touch the oracle.
func openStores() (*registry.Registry, *ledger.Ledger, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, nil, err
	}

	reg, err := registry.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	led, err := ledger.Open(cfg.Store.DatabasePath)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	return reg, led, nil
}

func (e *engine) Close() {
	e.channel.Close()
	e.manager.Wait()
	e.ledger.Close()
	e.registry.Close()
}
