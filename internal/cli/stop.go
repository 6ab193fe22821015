package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/harun/agentenv/internal/environment"
	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

// errNotRunning is returned by stop when no session owns the PID file
var errNotRunning = errors.New("agentenv is not running")

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent session",
	Long: `Stop the running agent session gracefully.
Sends SIGTERM, which cancels every job and persists input history, then
waits for the process to exit before falling back to SIGKILL.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the session to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return stopSession(cmd.OutOrStdout(), environment.NewPIDFile(cfg.DataDir), time.Duration(stopTimeout)*time.Second)
}

func stopSession(out io.Writer, pidFile *environment.PIDFile, timeout time.Duration) error {
	pid, running := pidFile.Running()
	if !running {
		return errNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !environment.ProcessAlive(pid) {
			fmt.Fprintln(out, "Session stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	// A killed session cannot release its own PID file
	if err := os.Remove(pidFile.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	fmt.Fprintln(out, "Session killed")
	return nil
}
