package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vendora/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo       repositories.CounterRepository
	clock      func() time.Time
	configMu   sync.Mutex
	configured map[string]repositories.CounterConfig
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		configured: make(map[string]repositories.CounterConfig),
	}, nil
}

// Next increments and returns the counter identified by counterID.
func (s *counterService) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}
	if step < 0 {
		return 0, fmt.Errorf("%w: step must not be negative", ErrCounterInvalidInput)
	}

	value, err := s.repo.Next(ctx, id, step)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorExhausted:
				return 0, fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			case repositories.CounterErrorInvalidInput:
				return 0, fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			}
		}
		return 0, err
	}
	return value, nil
}

// Configure applies counter bounds once per process, memoising identical configurations.
func (s *counterService) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if existing, ok := s.configured[id]; ok && counterConfigEqual(existing, cfg) {
		return nil
	}
	if err := s.repo.Configure(ctx, id, cfg); err != nil {
		return err
	}
	s.configured[id] = cfg
	return nil
}

func counterConfigEqual(a, b repositories.CounterConfig) bool {
	if a.Step != b.Step {
		return false
	}
	if !int64PtrEqual(a.MaxValue, b.MaxValue) {
		return false
	}
	return int64PtrEqual(a.InitialValue, b.InitialValue)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
