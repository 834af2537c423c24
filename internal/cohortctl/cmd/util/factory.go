// Package util holds what every cohortctl subcommand shares.
package util

import (
	"io"
	"net/http"
	"time"

	"github.com/kiosk404/cohort/internal/cohortctl/client"
	"github.com/spf13/viper"
)

// Viper keys of the global flags.
const (
	FlagServer  = "server"
	FlagToken   = "token"
	FlagOutput  = "output"
	FlagNoColor = "no-color"
	FlagTimeout = "request-timeout"
)

// IOStreams are the standard streams a command writes to.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// Factory builds the collaborators of a command from the global flags.
type Factory interface {
	Client() *client.Client
	// Output is "table", "json" or "wide".
	Output() string
	Color() bool
}

type defaultFactory struct {
	v *viper.Viper
}

// NewDefaultFactory reads the global flags through v.
func NewDefaultFactory(v *viper.Viper) Factory {
	return &defaultFactory{v: v}
}

func (f *defaultFactory) Client() *client.Client {
	timeout := f.v.GetDuration(FlagTimeout)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return client.New(f.v.GetString(FlagServer), f.v.GetString(FlagToken), &http.Client{Timeout: timeout})
}

func (f *defaultFactory) Output() string {
	return f.v.GetString(FlagOutput)
}

func (f *defaultFactory) Color() bool {
	return !f.v.GetBool(FlagNoColor)
}
