package scheduler

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"tradinta-forging/internal/logger"
)

// Job is a periodic task run by the Manager.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Execute()
}

// Manager owns the gocron scheduler for the service's background jobs
type Manager struct {
	scheduler gocron.Scheduler
	log       *logger.Logger
}

func NewManager(log *logger.Logger, opts ...gocron.SchedulerOption) (*Manager, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Manager{scheduler: s, log: log}, nil
}

// Register adds job in singleton mode, so a slow run delays the next one
// instead of overlapping it.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.Schedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	m.log.Info("SCHEDULER", fmt.Sprintf("Registered job %s", job.Name()))
	return nil
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.log.Info("SCHEDULER", "Task manager started successfully")
}

func (m *Manager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}

func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		m.log.Error("SCHEDULER", fmt.Sprintf("Failed to shutdown scheduler: %v", err))
	}
	m.log.Info("SCHEDULER", "Task manager stopped")
}
