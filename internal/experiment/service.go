// Package experiment runs the experiment lifecycle: definition, start and
// stop, result recording and winner promotion.
package experiment

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/mvariant/internal/adapters/memory"
	"github.com/emiliopalmerini/mvariant/internal/adapters/otel"
	"github.com/emiliopalmerini/mvariant/internal/assignment"
	"github.com/emiliopalmerini/mvariant/internal/ports"
	"github.com/emiliopalmerini/mvariant/internal/significance"
)

// DefaultPageSize applies to List when the filter sets no limit.
const DefaultPageSize = 50

type Service struct {
	repos    ports.Repositories
	tx       ports.Transactor
	locker   ports.Locker
	exporter ports.MetricsExporter
	sig      *significance.Engine
	assigner *assignment.Engine
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	pageSize int
}

type Option func(*Service)

// WithLocker guards winner promotion. Without it promotion is only
// serialized within this process.
func WithLocker(locker ports.Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithExporter(exporter ports.MetricsExporter) Option {
	return func(s *Service) { s.exporter = exporter }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewService(repos ports.Repositories, tx ports.Transactor, opts ...Option) *Service {
	s := &Service{
		repos:    repos,
		tx:       tx,
		locker:   memory.NewLocker(),
		exporter: otel.NewNoOpExporter(),
		sig:      significance.NewEngine(),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.assigner = assignment.NewEngine(repos.Experiments, repos.Variants,
		assignment.WithExporter(s.exporter),
		assignment.WithLogger(s.logger),
	)
	return s
}

// Assigner returns the assignment engine bound to the service's repositories.
func (s *Service) Assigner() *assignment.Engine {
	return s.assigner
}
