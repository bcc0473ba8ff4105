package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// smoke loads the module source in a yaegi interpreter and checks that the
// Run symbol resolves with the expected signature. Interpretation instead
// of `go build` keeps synthesis free of toolchain and dependency failures.
// The source must already have passed validateSource.
func smoke(ctx context.Context, src string) error {
	done := make(chan error, 1)
	go func() {
		done <- smokeEval(src)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smoke evaluation timed out: %w", ctx.Err())
	}
}

func smokeEval(src string) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load interpreter stdlib: %w", err)
	}

	wrapped := wrapMain(src)
	if _, err := i.Eval(wrapped); err != nil {
		return fmt.Errorf("module source failed to load: %w", err)
	}

	run, err := i.Eval("main.Run")
	if err != nil {
		return fmt.Errorf("Run entry function not resolvable: %w", err)
	}
	if _, ok := run.Interface().(func(string) (string, error)); !ok {
		return fmt.Errorf("Run has wrong signature at load time")
	}
	return nil
}

// Invoke runs a previously integrated module's Run function against input
// inside a fresh interpreter.
func Invoke(ctx context.Context, src, input string) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load interpreter stdlib: %w", err)
	}
	if _, err := i.Eval(wrapMain(src)); err != nil {
		return "", fmt.Errorf("module source failed to load: %w", err)
	}
	v, err := i.Eval("main.Run")
	if err != nil {
		return "", fmt.Errorf("Run entry function not resolvable: %w", err)
	}
	run, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return "", fmt.Errorf("Run has wrong signature")
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := run(input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return out, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("module invocation timed out: %w", ctx.Err())
	}
}

// wrapMain rewrites the package clause to main so the interpreter can
// resolve symbols under a fixed path.
func wrapMain(src string) string {
	lines := strings.SplitN(src, "\n", -1)
	for idx, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "package ") {
			lines[idx] = "package main"
			break
		}
	}
	return strings.Join(lines, "\n")
}
