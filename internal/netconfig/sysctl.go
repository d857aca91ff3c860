// Package netconfig shells out to privileged OS-level configuration
// commands. It is invoked only by the scheduler between phases; the rest
// of the core stays portable and testable without privilege.
package netconfig

import (
	"fmt"
	"log"
	"os/exec"
)

// execCommand is swapped out by tests.
var execCommand = exec.Command

// Set applies one sysctl key. It requires passwordless sudo; any failure
// is returned to the caller, which treats it as fatal to the phase.
func Set(key, value string) error {
	arg := key + "=" + value
	log.Printf("Applying sysctl %s", arg)
	out, err := execCommand("sudo", "-n", "/sbin/sysctl", "-w", arg).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sysctl %s failed: %v (output: %s)", arg, err, out)
	}
	return nil
}
