package util

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kiosk404/cohort/internal/cohortctl/client"
)

const defaultErrorExitCode = 1

var fatalErrHandler = fatal

// BehaviorOnFatal replaces the exit behavior of CheckErr. Tests use it.
func BehaviorOnFatal(f func(string, int)) {
	fatalErrHandler = f
}

// DefaultBehaviorOnFatal restores the exit behavior of CheckErr.
func DefaultBehaviorOnFatal() {
	fatalErrHandler = fatal
}

func fatal(msg string, code int) {
	if len(msg) > 0 {
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		fmt.Fprint(os.Stderr, msg)
	}
	os.Exit(code)
}

// CheckErr prints a user friendly error and exits with a non-zero code.
func CheckErr(err error) {
	if err == nil {
		return
	}
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		fatalErrHandler(color.RedString("error: ")+apiErr.Message+fmt.Sprintf(" (code %d)", apiErr.Code), defaultErrorExitCode)
	default:
		fatalErrHandler(color.RedString("error: ")+err.Error(), defaultErrorExitCode)
	}
}

// UsageErrorf reports a wrong invocation of cmd.
func UsageErrorf(cmd string, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s\nSee '%s -h' for help and examples", msg, cmd)
}
