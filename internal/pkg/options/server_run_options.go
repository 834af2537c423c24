package options

import (
	"fmt"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/pkg/server"
	"github.com/spf13/pflag"
)

// ServerRunOptions contains the options while running a generic api server.
type ServerRunOptions struct {
	Mode            string        `json:"mode"             mapstructure:"mode"`
	BindAddress     string        `json:"bind-address"     mapstructure:"bind-address"`
	BindPort        int           `json:"bind-port"        mapstructure:"bind-port"`
	Healthz         bool          `json:"healthz"          mapstructure:"healthz"`
	EnableProfiling bool          `json:"enable-profiling" mapstructure:"enable-profiling"`
	Middlewares     []string      `json:"middlewares"      mapstructure:"middlewares"`
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerRunOptions creates a new ServerRunOptions object with default parameters.
func NewServerRunOptions() *ServerRunOptions {
	defaults := server.NewConfig()

	return &ServerRunOptions{
		Mode:            defaults.Mode,
		BindAddress:     "127.0.0.1",
		BindPort:        8790,
		Healthz:         defaults.Healthz,
		EnableProfiling: defaults.EnableProfiling,
		Middlewares:     defaults.Middlewares,
		ShutdownTimeout: defaults.ShutdownTimeout,
	}
}

// ApplyTo applies the run options to the method receiver and returns self.
func (s *ServerRunOptions) ApplyTo(c *server.Config) error {
	c.Mode = s.Mode
	c.Healthz = s.Healthz
	c.EnableProfiling = s.EnableProfiling
	c.Middlewares = s.Middlewares
	c.ShutdownTimeout = s.ShutdownTimeout
	c.Addr = net.JoinHostPort(s.BindAddress, fmt.Sprintf("%d", s.BindPort))

	return nil
}

// Validate checks validation of ServerRunOptions.
func (s *ServerRunOptions) Validate() []error {
	var errs []error

	switch s.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		errs = append(errs, fmt.Errorf("--server.mode must be one of debug, release, test, got %q", s.Mode))
	}
	if s.BindPort < 0 || s.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("--server.bind-port %d must be between 0 and 65535", s.BindPort))
	}

	return errs
}

// AddFlags adds flags for a specific APIServer to the specified FlagSet.
func (s *ServerRunOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Mode, "server.mode", s.Mode, ""+
		"Start the server in a specified server mode. Supported server mode: debug, test, release.")
	fs.StringVar(&s.BindAddress, "server.bind-address", s.BindAddress, "The IP address on which to serve the HTTP API.")
	fs.IntVar(&s.BindPort, "server.bind-port", s.BindPort, "The port on which to serve the HTTP API.")
	fs.BoolVar(&s.Healthz, "server.healthz", s.Healthz, ""+
		"Add self readiness check and install /healthz router.")
	fs.BoolVar(&s.EnableProfiling, "server.enable-profiling", s.EnableProfiling, ""+
		"Enable profiling via web interface host:port/debug/pprof/")
	fs.StringSliceVar(&s.Middlewares, "server.middlewares", s.Middlewares, ""+
		"List of allowed middlewares for server, comma separated. If this list is empty default middlewares will be used.")
	fs.DurationVar(&s.ShutdownTimeout, "server.shutdown-timeout", s.ShutdownTimeout,
		"Time to wait for in-flight requests when the server stops.")
}
