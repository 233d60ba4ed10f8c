package tactile

import (
	"context"
	"fmt"
	"strings"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns a comprehensive result.
	// A non-zero exit is reported in the result, not as an error; the error
	// is reserved for commands that could not be attempted at all.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}

// Version runs "<binary> --version" and returns its trimmed standard output.
func Version(ctx context.Context, exec Executor, binary string) (string, error) {
	res, err := exec.Execute(ctx, Command{
		Binary:    binary,
		Arguments: []string{"--version"},
		Tags:      map[string]string{"stage": "version"},
	})
	if err != nil {
		return "", err
	}
	if res.Failed() {
		return "", fmt.Errorf("%s --version: %w", binary, res.Err())
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	return out, nil
}
