package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Spec describes one supervised subprocess run. The executor and the
// conflict merger share this primitive; they differ only in timeout and
// retry policy, which live above this layer.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Stdin   io.Reader     // nil unless the invocation feeds the prompt via stdin
	Timeout time.Duration // Deadline for the whole process
	Grace   time.Duration // SIGTERM-to-SIGKILL window
}

// Output is the captured output of a supervised subprocess.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Supervise runs the subprocess with timeout escalation: on deadline the
// process group receives SIGTERM, then SIGKILL if it has not exited within
// the grace window. Context cancellation escalates the same way. Both
// pipes are drained concurrently before Wait so large outputs cannot
// deadlock the child.
func Supervise(ctx context.Context, spec Spec, pm *ProcessManager) (Output, error) {
	cmd := newCommand(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to create stderr pipe: %w", err)}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Output{}, &Error{Kind: KindSpawn, Err: fmt.Errorf("failed to start %s: %w", spec.Command, err)}
	}
	pm.Track(cmd)
	defer pm.Untrack(cmd)

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var waitErr error
	timedOut := false
	canceled := false

	select {
	case waitErr = <-waitCh:
	case <-deadline:
		timedOut = true
		waitErr = escalate(cmd, waitCh, spec.Grace)
	case <-ctx.Done():
		canceled = true
		waitErr = escalate(cmd, waitCh, spec.Grace)
	}

	out := Output{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		Duration: time.Since(start),
	}

	switch {
	case timedOut:
		return out, &Error{Kind: KindTimeout, Err: fmt.Errorf("%s exceeded %s deadline", spec.Command, spec.Timeout)}
	case canceled:
		return out, fmt.Errorf("%s canceled: %w", spec.Command, ctx.Err())
	case waitErr != nil:
		if len(out.Stderr) > 0 {
			return out, &Error{Kind: KindExit, Err: fmt.Errorf("%s failed: %w (stderr: %s)", spec.Command, waitErr, truncate(string(out.Stderr), 512))}
		}
		return out, &Error{Kind: KindExit, Err: fmt.Errorf("%s failed: %w", spec.Command, waitErr)}
	}

	return out, nil
}

// escalate sends SIGTERM to the process group, waits up to grace for exit,
// then SIGKILLs and waits for the reaper goroutine.
func escalate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	_ = signalProcessGroup(cmd, syscall.SIGTERM)

	if grace <= 0 {
		grace = 10 * time.Second
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-graceTimer.C:
		_ = signalProcessGroup(cmd, syscall.SIGKILL)
		return <-waitCh
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
