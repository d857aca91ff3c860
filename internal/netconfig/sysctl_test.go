package netconfig

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetBuildsSysctlCommand(t *testing.T) {
	var gotName string
	var gotArgs []string
	execCommand = func(name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		return exec.Command("true")
	}
	defer func() { execCommand = exec.Command }()

	require.NoError(t, Set("net.ipv4.tcp_ecn", "1"))
	assert.Equal(t, "sudo", gotName)
	assert.Equal(t, []string{"-n", "/sbin/sysctl", "-w", "net.ipv4.tcp_ecn=1"}, gotArgs)
}

func TestSetReturnsCommandFailure(t *testing.T) {
	execCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("false")
	}
	defer func() { execCommand = exec.Command }()

	err := Set("net.ipv4.tcp_ecn", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net.ipv4.tcp_ecn=2")
}
