package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Config is a structure used to configure a GenericAPIServer.
type Config struct {
	Mode            string
	Addr            string
	Middlewares     []string
	Healthz         bool
	EnableProfiling bool
	ShutdownTimeout time.Duration
}

// NewConfig returns a Config struct with the default values.
func NewConfig() *Config {
	return &Config{
		Mode:            gin.ReleaseMode,
		Addr:            "127.0.0.1:8790",
		Middlewares:     []string{"recovery", "requestid", "logger"},
		Healthz:         true,
		EnableProfiling: false,
		ShutdownTimeout: 10 * time.Second,
	}
}

// CompletedConfig is the completed configuration for GenericAPIServer.
type CompletedConfig struct {
	*Config
}

// Complete fills in any fields not set that are required to have valid data.
// It's mutating the receiver.
func (c *Config) Complete() CompletedConfig {
	if c.Mode == "" {
		c.Mode = gin.ReleaseMode
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return CompletedConfig{c}
}

// New returns a new instance of GenericAPIServer from the given config.
func (c CompletedConfig) New() (*GenericAPIServer, error) {
	gin.SetMode(c.Mode)

	s := &GenericAPIServer{
		addr:            c.Addr,
		middlewares:     c.Middlewares,
		healthz:         c.Healthz,
		enableProfiling: c.EnableProfiling,
		shutdownTimeout: c.ShutdownTimeout,
		Engine:          gin.New(),
	}

	initGenericAPIServer(s)

	return s, nil
}
