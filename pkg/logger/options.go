package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Options holds the logging configuration.
type Options struct {
	Level        string `json:"level"         mapstructure:"level"`
	Format       string `json:"format"        mapstructure:"format"`
	OutputPath   string `json:"output"        mapstructure:"output"`
	DisableColor bool   `json:"disable-color" mapstructure:"disable-color"`
}

// NewOptions returns the default logging options.
func NewOptions() *Options {
	return &Options{
		Level:      "info",
		Format:     "text",
		OutputPath: "stderr",
	}
}

// Validate checks the logging options.
func (o *Options) Validate() []error {
	var errs []error
	if _, err := logrus.ParseLevel(o.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", o.Level))
	}
	if o.Format != "text" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q, must be 'text' or 'json'", o.Format))
	}
	return errs
}

// AddFlags adds the logging flags to the given flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum log level: debug, info, warn, error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log format: 'text' or 'json'.")
	fs.StringVar(&o.OutputPath, "log.output", o.OutputPath, "Log output: stderr, stdout or a file path.")
	fs.BoolVar(&o.DisableColor, "log.disable-color", o.DisableColor, "Disable colored text output.")
}
