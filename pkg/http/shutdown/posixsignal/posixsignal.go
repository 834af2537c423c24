// Package posixsignal triggers a graceful shutdown on SIGINT or SIGTERM.
package posixsignal

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/kiosk404/cohort/pkg/http/shutdown"
)

// Name defines shutdown manager name.
const Name = "PosixSignalManager"

// PosixSignalManager implements ShutdownManager interface that is added
// to GracefulShutdown. Initialize with NewPosixSignalManager.
type PosixSignalManager struct {
	signals []os.Signal
}

// NewPosixSignalManager initializes the PosixSignalManager.
// As arguments you can provide os.Signal-s to listen to, if none are given,
// it will default to SIGINT and SIGTERM.
func NewPosixSignalManager(sig ...os.Signal) *PosixSignalManager {
	if len(sig) == 0 {
		sig = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	return &PosixSignalManager{signals: sig}
}

// GetName returns name of this ShutdownManager.
func (m *PosixSignalManager) GetName() string {
	return Name
}

// Start starts listening for posix signals.
func (m *PosixSignalManager) Start(gs shutdown.GSInterface) error {
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, m.signals...)

		<-c
		signal.Stop(c)

		gs.StartShutdown(m)
	}()

	return nil
}

// ShutdownStart does nothing.
func (m *PosixSignalManager) ShutdownStart() error {
	return nil
}

// ShutdownFinish does nothing; the caller decides when the process exits.
func (m *PosixSignalManager) ShutdownFinish() error {
	return nil
}
