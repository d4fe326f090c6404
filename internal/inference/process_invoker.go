package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go-leaf-doctor/internal/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const defaultWaitDelay = 2 * time.Second

// Options configures how the classifier process is launched.
type Options struct {
	// Binary is the executable, e.g. python3.
	Binary string
	// Args precede the image argument, e.g. the classifier script path.
	Args []string
	// ImageFlag is placed before the image path. Empty passes the path positionally.
	ImageFlag string
	// Env is appended to the server's environment for the child process.
	Env []string
	// Timeout bounds a single run. The process is killed when it expires.
	Timeout time.Duration
	// MaxOutputBytes caps how much of each stream is retained.
	MaxOutputBytes int64
	// MaxConcurrent limits in-flight processes. Zero means unlimited.
	MaxConcurrent int64
}

// ProcessInvoker spawns one classifier process per call.
type ProcessInvoker struct {
	opts Options
	sem  *semaphore.Weighted
}

// NewProcessInvoker creates an invoker for the given options.
func NewProcessInvoker(opts Options) *ProcessInvoker {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1024 * 1024
	}

	p := &ProcessInvoker{opts: opts}
	if opts.MaxConcurrent > 0 {
		p.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return p
}

// CommandLine returns the argument vector used for imagePath.
func (p *ProcessInvoker) CommandLine(imagePath string) []string {
	argv := make([]string, 0, len(p.opts.Args)+3)
	argv = append(argv, p.opts.Binary)
	argv = append(argv, p.opts.Args...)
	if p.opts.ImageFlag != "" {
		argv = append(argv, p.opts.ImageFlag)
	}
	return append(argv, imagePath)
}

// Invoke runs the classifier on imagePath and waits for it to exit. Both
// output streams are fully drained before the outcome is decided.
func (p *ProcessInvoker) Invoke(ctx context.Context, imagePath string) (Outcome, error) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return Outcome{}, &InvocationError{
				Kind:   KindProcessError,
				Detail: "classifier admission canceled: " + err.Error(),
				Cause:  err,
			}
		}
		defer p.sem.Release(1)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	argv := p.CommandLine(imagePath)
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.WaitDelay = defaultWaitDelay
	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: p.opts.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: p.opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	logger.WithFields(logrus.Fields{
		"binary": argv[0],
		"image":  imagePath,
	}).Debug("Starting classifier process")

	// Run returns only after the process has exited and the copy goroutines
	// feeding both buffers have finished.
	err := cmd.Run()
	duration := time.Since(started)

	if stdout.truncated || stderr.truncated {
		logger.WithFields(logrus.Fields{
			"image":            imagePath,
			"stdout_discarded": stdout.discarded,
			"stderr_discarded": stderr.discarded,
		}).Warn("Classifier output truncated")
	}

	if err != nil {
		invErr := p.classifyRunError(ctx, execCtx, err, stderrBuf.String(), duration)
		logger.WithError(invErr).WithFields(logrus.Fields{
			"image":       imagePath,
			"exit_code":   invErr.ExitCode,
			"timed_out":   invErr.TimedOut,
			"duration_ms": duration.Milliseconds(),
		}).Error("Classifier process failed")
		return Outcome{}, invErr
	}

	outcome, err := ParseOutput(stdoutBuf.Bytes())
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"image":  imagePath,
			"stdout": stdoutBuf.String(),
		}).Error("Classifier returned malformed output")
		return Outcome{}, err
	}

	logger.WithFields(logrus.Fields{
		"image":       imagePath,
		"disease":     outcome.Label,
		"confidence":  outcome.Confidence,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Classifier process completed")

	return outcome, nil
}

// classifyRunError checks ctx before execCtx; execCtx inherits ctx's deadline
// and cancellation.
func (p *ProcessInvoker) classifyRunError(ctx, execCtx context.Context, err error, stderr string, elapsed time.Duration) *InvocationError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &InvocationError{
			Kind:     KindProcessError,
			Detail:   fmt.Sprintf("request deadline exceeded after %s", elapsed.Round(time.Millisecond)),
			ExitCode: -1,
			TimedOut: true,
			Cause:    context.DeadlineExceeded,
		}
	case errors.Is(ctx.Err(), context.Canceled):
		return &InvocationError{
			Kind:     KindProcessError,
			Detail:   "classifier run canceled",
			ExitCode: -1,
			Cause:    context.Canceled,
		}
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return &InvocationError{
			Kind:     KindProcessError,
			Detail:   fmt.Sprintf("classifier timed out after %s", p.opts.Timeout),
			ExitCode: -1,
			TimedOut: true,
			Cause:    context.DeadlineExceeded,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := stderr
		if strings.TrimSpace(detail) == "" {
			detail = fmt.Sprintf("classifier exited with status %d", exitErr.ExitCode())
		}
		return &InvocationError{
			Kind:     KindProcessError,
			Detail:   detail,
			ExitCode: exitErr.ExitCode(),
			Cause:    err,
		}
	}

	// The process could not be started or its pipes failed.
	return &InvocationError{
		Kind:     KindProcessError,
		Detail:   err.Error(),
		ExitCode: -1,
		Cause:    err,
	}
}

// limitedWriter retains at most max bytes and silently discards the rest so
// the child never blocks on a full pipe.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
