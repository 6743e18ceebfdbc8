// Package supervisor implements the init/supervisor component: it
// starts the fixed sequence of core services, watches each started
// process, and on an unexpected exit consults the driver manager's
// restart-budget policy before relaunching it.
//
// Grounded on services/init/src/main.rs's startup sequence and
// service_manager.rs/service_startup.rs's ordered-start list, in the
// idiom of monitor.go's one-goroutine-per-watched-process loop
// reporting exits over a channel.
package supervisor

import (
	"context"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS/internal/drivermanager"
)

var supLog = logrus.WithField("source", "supervisor")

func logger() *logrus.Entry {
	return supLog.WithField("subsystem", "supervisor")
}

// ServiceSpec describes one process the supervisor starts and
// monitors.
type ServiceSpec struct {
	Name       string
	Path       string
	Args       []string
	DriverID   uint64 // 0 if this service is not tracked by the driver manager
	DriverType drivermanager.DriverType
}

type watchedProcess struct {
	spec ServiceSpec
	cmd  *exec.Cmd
}

// Supervisor starts and restarts the service set in the order given,
// mirroring service_startup.rs's fixed boot sequence: PCI bus, device
// manager, driver manager, then every other driver/service.
type Supervisor struct {
	mu       sync.Mutex
	dm       *drivermanager.Manager
	running  map[string]*watchedProcess
	exits    chan exitEvent
}

type exitEvent struct {
	name string
	err  error
}

func New(dm *drivermanager.Manager) *Supervisor {
	return &Supervisor{
		dm:      dm,
		running: map[string]*watchedProcess{},
		exits:   make(chan exitEvent, 16),
	}
}

// Start launches every spec in order, failing fast if any of them
// cannot even be started (as opposed to crashing later, which is
// handled by the restart-budget policy).
func (s *Supervisor) Start(ctx context.Context, specs []ServiceSpec) error {
	for _, spec := range specs {
		if err := s.launch(ctx, spec); err != nil {
			return errors.Wrapf(err, "supervisor: starting %s", spec.Name)
		}
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, spec ServiceSpec) error {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	wp := &watchedProcess{spec: spec, cmd: cmd}
	s.mu.Lock()
	s.running[spec.Name] = wp
	s.mu.Unlock()

	logger().WithField("service", spec.Name).Info("service started")

	go func() {
		err := cmd.Wait()
		s.exits <- exitEvent{name: spec.Name, err: err}
	}()
	return nil
}

// Supervise runs the restart loop until ctx is cancelled, relaunching
// any service whose exit the driver manager's restart-budget policy
// approves.
func (s *Supervisor) Supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.exits:
			s.handleExit(ctx, ev)
		}
	}
}

func (s *Supervisor) handleExit(ctx context.Context, ev exitEvent) {
	s.mu.Lock()
	wp, ok := s.running[ev.name]
	delete(s.running, ev.name)
	s.mu.Unlock()
	if !ok {
		return
	}

	logger().WithFields(logrus.Fields{
		"service": ev.name,
		"error":   ev.err,
	}).Warn("service exited")

	if wp.spec.DriverID == 0 {
		// Not a driver-manager-tracked service: restart unconditionally,
		// mirroring init's treatment of core services as always-on.
		if err := s.launch(ctx, wp.spec); err != nil {
			logger().WithError(err).Error("failed to restart core service")
		}
		return
	}

	restart, err := s.dm.HandleDriverCrash(wp.spec.DriverID)
	if err != nil {
		logger().WithError(err).Error("driver manager could not process crash")
		return
	}
	if !restart {
		logger().WithField("service", ev.name).Error("driver restart budget exhausted, leaving down")
		return
	}
	if err := s.launch(ctx, wp.spec); err != nil {
		logger().WithError(err).Error("failed to restart driver")
	}
}
