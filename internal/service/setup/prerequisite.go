package setup

import (
	"fmt"
	"runtime"
)

// PrerequisiteError names a host tool that is missing or unusable.
type PrerequisiteError struct {
	// Tool is the missing prerequisite.
	Tool string
	// Hint tells the user how to install it.
	Hint string
	// Err is the probe failure, if any.
	Err error
}

// Error implements error.
func (e *PrerequisiteError) Error() string {
	msg := e.Tool + " is not available"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}

	return msg
}

// Unwrap returns the probe failure.
func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// Tools checked by Probe.
const (
	ToolGit    = "git"
	ToolPython = "python3"
	ToolPip    = "pip"
	ToolVenv   = "venv"
)

// hint returns install advice for a tool on goos.
func hint(tool, goos string) string {
	switch tool {
	case ToolGit:
		switch goos {
		case "darwin":
			return "install Homebrew from https://brew.sh, then run `brew install git`"
		case "linux":
			return "install git with your distribution package manager"
		}
	case ToolPython:
		switch goos {
		case "darwin":
			return "install Homebrew from https://brew.sh, then run `brew install python3`"
		case "linux":
			return "run `apt-get install python3 python3-pip python3-venv`"
		}
	case ToolPip:
		if goos == "linux" {
			return "install the python3-pip package"
		}

		return "install python3 with pip support"
	case ToolVenv:
		if goos == "linux" {
			return "install the python3-venv package"
		}

		return "install python3 with venv support"
	}

	return fmt.Sprintf("install %s and make sure it is on PATH", tool)
}

func missing(tool string, err error) *PrerequisiteError {
	return &PrerequisiteError{Tool: tool, Hint: hint(tool, runtime.GOOS), Err: err}
}
