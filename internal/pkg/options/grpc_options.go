package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// GRPCOptions are for creating an unauthenticated, unauthorized, insecure port.
type GRPCOptions struct {
	Enabled     bool   `json:"enabled"      mapstructure:"enabled"`
	BindAddress string `json:"bind-address" mapstructure:"bind-address"`
	BindPort    int    `json:"bind-port"    mapstructure:"bind-port"`
	MaxMsgSize  int    `json:"max-msg-size" mapstructure:"max-msg-size"`
}

// NewGRPCOptions is for creating an unauthenticated, unauthorized, insecure port.
func NewGRPCOptions() *GRPCOptions {
	return &GRPCOptions{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		BindPort:    8791,
		MaxMsgSize:  4 * 1024 * 1024,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (s *GRPCOptions) Validate() []error {
	var errs []error

	if s.Enabled && (s.BindPort < 0 || s.BindPort > 65535) {
		errs = append(errs, fmt.Errorf("--grpc.bind-port %v must be between 0 and 65535", s.BindPort))
	}
	if s.MaxMsgSize <= 0 {
		errs = append(errs, fmt.Errorf("--grpc.max-msg-size must be positive"))
	}

	return errs
}

// AddFlags adds flags related to features for a specific api server to the
// specified FlagSet.
func (s *GRPCOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&s.Enabled, "grpc.enabled", s.Enabled, "Serve the gRPC health endpoint.")
	fs.StringVar(&s.BindAddress, "grpc.bind-address", s.BindAddress, ""+
		"The IP address on which to serve the --grpc.bind-port.")
	fs.IntVar(&s.BindPort, "grpc.bind-port", s.BindPort, ""+
		"The port on which to serve gRPC.")
	fs.IntVar(&s.MaxMsgSize, "grpc.max-msg-size", s.MaxMsgSize, "gRPC max message size.")
}
