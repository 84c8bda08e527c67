package renderer

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/alnah/go-mmd2svg/internal/process"
)

// Conn is the I/O of one launched persistent renderer.
type Conn struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	// Stop terminates the process and releases its resources. It is called
	// once per Conn, after Stdout has been drained or abandoned.
	Stop func() error
}

// Launcher starts a persistent renderer process.
type Launcher func() (*Conn, error)

// CommandLauncher returns a Launcher that runs path with args, speaking the
// line protocol over stdin and stdout. Each stderr line is logged at debug
// level.
func CommandLauncher(path string, args []string, logger *log.Logger) Launcher {
	logger = loggerOr(logger)

	return func() (*Conn, error) {
		cmd := exec.Command(path, args...) // #nosec G204 -- argv array, no shell
		process.Isolate(cmd)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		pid := cmd.Process.Pid
		logger.Debug("renderer started", "path", path, "pid", pid)

		var stderrDone sync.WaitGroup
		stderrDone.Add(1)
		go func() {
			defer stderrDone.Done()
			sc := bufio.NewScanner(stderr)
			for sc.Scan() {
				logger.Debug("renderer stderr", "pid", pid, "line", sc.Text())
			}
			// Keep draining after an overlong line so the process never blocks.
			_, _ = io.Copy(io.Discard, stderr)
		}()

		var once sync.Once
		stop := func() error {
			once.Do(func() {
				_ = stdin.Close()
				process.KillProcessGroup(pid)
				_ = cmd.Process.Kill()
				stderrDone.Wait()
				err := cmd.Wait()
				logger.Debug("renderer stopped", "pid", pid, "status", err)
			})
			return nil
		}

		return &Conn{Stdin: stdin, Stdout: stdout, Stop: stop}, nil
	}
}
