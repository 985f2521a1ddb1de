package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// minerTimeWindow and minerThreads are the commit-devs-files arguments.
const (
	minerTimeWindow = "30"
	minerThreads    = "2"
)

// MinerOutput is the combined console output of both miner runs.
type MinerOutput struct {
	Issues  string `json:"issues"`
	Commits string `json:"commits"`
}

// Miner produces the commit and issue tables for a repository.
type Miner interface {
	Mine(ctx context.Context, gitLink string) (*MinerOutput, error)
	OutputDir() string
}

// ExecMiner runs the scraper's miner binary twice inside the scraper
// directory: once for issues and once for commit file details.
type ExecMiner struct {
	scraperDir string
	binary     string
	outputDir  string
	logger     logrus.FieldLogger
}

func NewExecMiner(cfg config.PipelineConfig, logger logrus.FieldLogger) *ExecMiner {
	binary := cfg.MinerBinary
	if !filepath.IsAbs(binary) {
		binary = filepath.Join(cfg.ScraperDir, binary)
	}
	if abs, err := filepath.Abs(binary); err == nil {
		binary = abs
	}
	return &ExecMiner{
		scraperDir: cfg.ScraperDir,
		binary:     binary,
		outputDir:  cfg.OutputDir,
		logger:     logger.WithField("component", "miner"),
	}
}

// OutputDir is where the miner writes its CSV files.
func (m *ExecMiner) OutputDir() string {
	if filepath.IsAbs(m.outputDir) {
		return m.outputDir
	}
	return filepath.Join(m.scraperDir, m.outputDir)
}

func (m *ExecMiner) Mine(ctx context.Context, gitLink string) (*MinerOutput, error) {
	if _, err := os.Stat(m.binary); err != nil {
		return nil, errors.FileSystemErrorf(err, "miner binary not found at %s", m.binary)
	}
	out := &MinerOutput{}

	issues, err := m.run(ctx,
		"--fetch-github-issues",
		"--github-url="+gitLink,
		"--github-output-folder="+m.outputDir,
	)
	out.Issues = issues
	if err != nil {
		return out, err
	}

	commits, err := m.run(ctx,
		"--commit-devs-files",
		"--time-window="+minerTimeWindow,
		"--threads="+minerThreads,
		"--output-folder="+m.outputDir,
		"--git-online-url="+gitLink,
	)
	out.Commits = commits
	if err != nil {
		return out, err
	}
	return out, nil
}

func (m *ExecMiner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Dir = m.scraperDir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	m.logger.WithField("args", strings.Join(args, " ")).Info("running miner")
	output, err := cmd.CombinedOutput()
	if err != nil {
		e := errors.SourceUnavailable(err, "miner "+args[0]+" failed: "+strings.TrimSpace(string(output))).
			WithContext("miner_step", args[0])
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			e.WithContext("exit_code", exitErr.ExitCode())
		}
		return string(output), e
	}
	return string(output), nil
}
