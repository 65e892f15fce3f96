package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// RunnerLauncher starts the annotation-runner binary as an independent
// process. The runner performs the upload and completion transitions on
// its own; a slow or stuck computation cannot starve the consumer loop.
type RunnerLauncher struct {
	runnerPath string
	configPath string
	logger     *slog.Logger
}

// NewRunnerLauncher creates a launcher for the given runner binary
func NewRunnerLauncher(runnerPath, configPath string, logger *slog.Logger) *RunnerLauncher {
	return &RunnerLauncher{
		runnerPath: runnerPath,
		configPath: configPath,
		logger:     logger,
	}
}

// Launch starts the runner detached. Deliberately not CommandContext:
// the computation must outlive this consumer's message-handling context.
func (l *RunnerLauncher) Launch(_ context.Context, inputPath, inputKey, jobID string) error {
	cmd := exec.Command(l.runnerPath,
		"-config", l.configPath,
		"-input", inputPath,
		"-key", inputKey,
		"-job-id", jobID,
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to detach runner: %w", err)
	}

	l.logger.Info("Annotation runner launched",
		slog.String("job_id", jobID),
		slog.Int("pid", pid),
	)

	return nil
}
