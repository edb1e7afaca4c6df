package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Status reports whether an external tool can be executed.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// resolveBinary looks command up on PATH (or as a path) and records the
// resolved location when found.
func resolveBinary(name, command, description string) Status {
	command = strings.TrimSpace(command)
	status := Status{Name: name, Command: command, Description: description}
	if command == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", command)
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}
