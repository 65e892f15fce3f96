package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// ExecTool runs the annotation executable as a child process and waits
// for it. The tool takes the input file path as its only argument and
// writes its artifacts next to the input.
type ExecTool struct {
	toolPath string
	logger   *slog.Logger
}

// NewExecTool creates a new ExecTool
func NewExecTool(toolPath string, logger *slog.Logger) *ExecTool {
	return &ExecTool{
		toolPath: toolPath,
		logger:   logger,
	}
}

// Run executes the tool and blocks until it exits
func (t *ExecTool) Run(ctx context.Context, inputPath string) error {
	cmd := exec.CommandContext(ctx, t.toolPath, inputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			t.logger.Error("Annotation tool output",
				slog.String("output", string(output)),
			)
		}
		return fmt.Errorf("%s: %w", t.toolPath, err)
	}
	return nil
}
