package serialtelnet

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// restartProcess replaces the running process with a fresh copy of itself,
// keeping arguments and environment. It only returns on failure.
func restartProcess() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
