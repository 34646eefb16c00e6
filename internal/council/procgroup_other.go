//go:build !unix

package council

import (
	"errors"
	"os/exec"
)

var errNoProcessGroups = errors.New("council: process groups are not supported on this platform")

func setProcessGroup(*exec.Cmd) {}

func groupAlive(int) bool { return false }

func terminateGroup(int) error { return errNoProcessGroups }

func killGroup(int) error { return errNoProcessGroups }
