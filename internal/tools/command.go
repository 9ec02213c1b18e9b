package tools

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"zenus/internal/logging"
)

// runCommand executes a command, capturing stdout and stderr through
// line-buffered readers. Cancellation kills the process via the exec
// context. Returns captured output along with the run error so callers
// can surface stderr even on failure.
func runCommand(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("failed to start %s: %w", name, err)
	}
	logging.ToolsDebug("running: %s %s", name, strings.Join(args, " "))

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(outPipe)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			outBuf.WriteString(sc.Text())
			outBuf.WriteByte('\n')
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(errPipe)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			errBuf.WriteString(sc.Text())
			errBuf.WriteByte('\n')
		}
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outBuf.String(), errBuf.String(), ctxErr
	}
	if waitErr != nil {
		return outBuf.String(), errBuf.String(),
			fmt.Errorf("%s failed: %w: %s", name, waitErr, strings.TrimSpace(errBuf.String()))
	}
	return outBuf.String(), errBuf.String(), nil
}
