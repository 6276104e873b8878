package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
)

// Extractor turns a repository on disk into the extraction documents the
// builder consumes. outputDir is a scratch directory owned by the caller.
type Extractor interface {
	Extract(ctx context.Context, inputPath, outputDir string) (*contract.DirectoryInfo, contract.CallGraph, error)
}

// ExtractionError reports a failed extraction of one input path.
type ExtractionError struct {
	InputPath string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.InputPath, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Inspect4py runs the inspect4py command line tool as a subprocess.
type Inspect4py struct {
	Command string
	Args    []string

	// Timeout bounds one extraction. Zero means no limit.
	Timeout time.Duration

	Logger *zap.Logger
}

// NewInspect4py creates an extractor running command with the given
// extra arguments.
func NewInspect4py(command string, args []string, timeout time.Duration, logger *zap.Logger) *Inspect4py {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspect4py{Command: command, Args: args, Timeout: timeout, Logger: logger.Named("inspect4py")}
}

// Extract runs "<command> -i inputPath -o outputDir <args...>" and reads
// the two documents it writes.
func (x *Inspect4py) Extract(ctx context.Context, inputPath, outputDir string) (*contract.DirectoryInfo, contract.CallGraph, error) {
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	args := append([]string{"-i", inputPath, "-o", outputDir}, x.Args...)
	cmd := exec.CommandContext(ctx, x.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	x.Logger.Info("Extracting information", zap.String("input", inputPath), zap.String("command", x.Command))
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, nil, &ExtractionError{InputPath: inputPath, Err: err}
	}
	x.Logger.Info("Extraction done", zap.String("input", inputPath), zap.Duration("took", time.Since(start)))

	return ReadOutput(outputDir)
}

// ReadOutput decodes the extraction documents in dir. A missing call graph
// is not an error.
func ReadOutput(dir string) (*contract.DirectoryInfo, contract.CallGraph, error) {
	info, err := contract.LoadDirectoryInfo(filepath.Join(dir, contract.DirectoryInfoFile))
	if err != nil {
		return nil, nil, err
	}
	cg, err := contract.LoadCallGraph(filepath.Join(dir, contract.CallGraphFile))
	if err != nil {
		return nil, nil, err
	}
	return info, cg, nil
}
