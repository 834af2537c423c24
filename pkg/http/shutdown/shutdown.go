// Package shutdown runs registered callbacks when a shutdown manager fires.
package shutdown

import (
	"sync"
)

// ShutdownCallback is called when a shutdown request is received.
type ShutdownCallback interface {
	OnShutdown(string) error
}

// ShutdownFunc is a helper type, so you can easily provide anonymous functions
// as ShutdownCallbacks.
type ShutdownFunc func(string) error

// OnShutdown defines the action needed to run when shutdown triggered.
func (f ShutdownFunc) OnShutdown(shutdownManager string) error {
	return f(shutdownManager)
}

// Func wraps f as a ShutdownCallback.
func Func(f func(string) error) ShutdownCallback {
	return ShutdownFunc(f)
}

// ShutdownManager is an interface implemented by shutdown managers.
type ShutdownManager interface {
	GetName() string
	Start(gs GSInterface) error
	ShutdownStart() error
	ShutdownFinish() error
}

// ErrorHandler is called when a callback or manager fails.
type ErrorHandler interface {
	OnError(err error)
}

// ErrorFunc adapts a function to an ErrorHandler.
type ErrorFunc func(err error)

// OnError calls f(err).
func (f ErrorFunc) OnError(err error) {
	f(err)
}

// GSInterface is an interface implemented by GracefulShutdown,
// that gets passed to ShutdownManager to call StartShutdown when shutdown
// is requested.
type GSInterface interface {
	StartShutdown(sm ShutdownManager)
	ReportError(err error)
	AddShutdownCallback(shutdownCallback ShutdownCallback)
}

// GracefulShutdown is main struct that handles ShutdownCallbacks and
// ShutdownManagers. Initialize it with New.
type GracefulShutdown struct {
	callbacks    []ShutdownCallback
	managers     []ShutdownManager
	errorHandler ErrorHandler
	done         chan struct{}
	once         sync.Once
}

// New initializes GracefulShutdown.
func New() *GracefulShutdown {
	return &GracefulShutdown{
		callbacks: make([]ShutdownCallback, 0, 10),
		managers:  make([]ShutdownManager, 0, 3),
		done:      make(chan struct{}),
	}
}

// Start calls Start on all added ShutdownManagers. The ShutdownManagers
// start to listen to shutdown requests. Returns an error if any ShutdownManagers
// return an error.
func (gs *GracefulShutdown) Start() error {
	for _, manager := range gs.managers {
		if err := manager.Start(gs); err != nil {
			return err
		}
	}

	return nil
}

// AddShutdownManager adds a ShutdownManager that will listen to shutdown requests.
func (gs *GracefulShutdown) AddShutdownManager(manager ShutdownManager) {
	gs.managers = append(gs.managers, manager)
}

// AddShutdownCallback adds a ShutdownCallback that will be called when
// shutdown is requested.
func (gs *GracefulShutdown) AddShutdownCallback(shutdownCallback ShutdownCallback) {
	gs.callbacks = append(gs.callbacks, shutdownCallback)
}

// SetErrorHandler sets an ErrorHandler that will be called when an error
// is encountered in ShutdownCallback or in ShutdownManager.
func (gs *GracefulShutdown) SetErrorHandler(errorHandler ErrorHandler) {
	gs.errorHandler = errorHandler
}

// StartShutdown is called from a ShutdownManager and will initiate shutdown.
// It calls ShutdownStart on the manager, runs every callback concurrently,
// waits for them and calls ShutdownFinish.
func (gs *GracefulShutdown) StartShutdown(sm ShutdownManager) {
	gs.once.Do(func() {
		defer close(gs.done)

		gs.ReportError(sm.ShutdownStart())

		var wg sync.WaitGroup
		for _, shutdownCallback := range gs.callbacks {
			wg.Add(1)
			go func(shutdownCallback ShutdownCallback) {
				defer wg.Done()

				gs.ReportError(shutdownCallback.OnShutdown(sm.GetName()))
			}(shutdownCallback)
		}

		wg.Wait()

		gs.ReportError(sm.ShutdownFinish())
	})
}

// Done is closed once every callback has returned.
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// ReportError is a function that can be used to report errors to
// ErrorHandler. It is used in ShutdownManagers.
func (gs *GracefulShutdown) ReportError(err error) {
	if err != nil && gs.errorHandler != nil {
		gs.errorHandler.OnError(err)
	}
}
