package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"forgeloop/internal/cycle"
	"forgeloop/internal/types"
)

func taskFromArgs(args []string) types.Task {
	return types.Task{
		ID:               uuid.NewString(),
		Description:      strings.Join(args, " "),
		TargetConfidence: threshold,
		MaxCycles:        maxCycles,
	}
}

func runChain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	task := taskFromArgs(args)
	chainID, err := eng.manager.StartCycleChain(ctx, task)
	if err != nil {
		return err
	}
	fmt.Printf("chain %s started for task %s\n", chainID, task.ID)

	status, err := eng.manager.WaitFor(ctx, chainID)
	if err != nil {
		return err
	}
	printStatus(status)

	if status.State == "aborted" {
		return fmt.Errorf("chain aborted: %s", status.Rationale)
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	interval := pollInterval
	if interval <= 0 {
		interval = eng.cfg.GetPollInterval()
	}
	runs := maxRuns
	if runs <= 0 {
		runs = eng.cfg.Improvement.MaxRuns
	}

	daemon := cycle.NewDaemon(eng.manager, eng.channel, eng.interpreter, interval, runs)

	task := taskFromArgs(args)
	fmt.Printf("continuous mode: task %s, poll interval %s, run ceiling %d\n",
		task.ID, interval, runs)
	fmt.Printf("drop feedback files into %s\n", eng.cfg.Feedback.InboxDir)

	last, err := daemon.Run(ctx, task)
	if err != nil {
		return err
	}
	printStatus(last)
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	reg, led, err := openStores()
	if err != nil {
		return err
	}
	defer reg.Close()
	defer led.Close()

	last, err := led.Last(args[0])
	if err != nil {
		return err
	}
	if last == nil {
		return fmt.Errorf("no recorded cycles for task %q", args[0])
	}

	fmt.Printf("task:       %s\n", last.TaskID)
	fmt.Printf("state:      %s\n", last.State)
	fmt.Printf("cycle:      %d\n", last.CycleIndex)
	fmt.Printf("confidence: %.2f\n", last.Confidence)
	if last.Rationale != "" {
		fmt.Printf("rationale:  %s\n", last.Rationale)
	}
	if len(last.Modules) > 0 {
		fmt.Printf("modules:    %s\n", strings.Join(last.Modules, ", "))
	}
	return nil
}

func exportLedger(cmd *cobra.Command, args []string) error {
	reg, led, err := openStores()
	if err != nil {
		return err
	}
	defer reg.Close()
	defer led.Close()

	taskID := ""
	if len(args) > 0 {
		taskID = args[0]
	}
	entries, err := led.Entries(taskID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func listModules(cmd *cobra.Command, args []string) error {
	reg, led, err := openStores()
	if err != nil {
		return err
	}
	defer reg.Close()
	defer led.Close()

	snapshot := reg.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("no integrated modules")
		return nil
	}
	for _, mod := range snapshot {
		line := mod.Name
		if len(mod.Aliases) > 0 {
			line += " (" + strings.Join(mod.Aliases, ", ") + ")"
		}
		if mod.Description != "" {
			line += " - " + mod.Description
		}
		fmt.Println(line)
	}
	return nil
}

func printStatus(status cycle.ChainStatus) {
	fmt.Printf("\nchain:      %s\n", status.ChainID)
	fmt.Printf("state:      %s\n", status.State)
	fmt.Printf("cycles:     %d of %d\n", status.CycleIndex, status.Task.MaxCycles)
	fmt.Printf("confidence: %.2f (target %.2f)\n", status.Confidence, status.Task.TargetConfidence)
	if status.Rationale != "" {
		fmt.Printf("rationale:  %s\n", status.Rationale)
	}
	if len(status.Modules) > 0 {
		fmt.Printf("modules:    %s\n", strings.Join(status.Modules, ", "))
	}
	for _, cyc := range status.Cycles {
		fmt.Printf("  cycle %d: %.2f (%s)\n", cyc.Index, cyc.Confidence, cyc.Status)
	}
}
