package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"chaseline/internal/config"
	"chaseline/internal/domain"
	"chaseline/internal/repo"
)

// quantileStep drives the streaming p90 estimate: each resolved chase nudges
// the estimate up by 0.9 days when it came in slower, down by 0.1 days when
// faster. In steady state the estimate settles near the 90th percentile.
const quantileStep = 1.0

// ProfileStore manages provider latency profiles. First access seeds a
// profile from the configured catalog; resolved chases then fold their
// realized latency into the running statistics. Updates are serialized per
// provider so concurrent workers cannot lose samples.
type ProfileStore struct {
	repo repo.Repo
	cfg  *config.Config
	Now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProfileStore(r repo.Repo, cfg *config.Config) *ProfileStore {
	return &ProfileStore{
		repo:  r,
		cfg:   cfg,
		Now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *ProfileStore) lock(providerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

// Get returns the provider's profile, seeding one from the catalog entry (or
// the configured default latency) when none is stored yet.
func (s *ProfileStore) Get(ctx context.Context, providerID string) (domain.ProviderProfile, error) {
	p, err := s.repo.GetProviderProfile(ctx, providerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	l := s.lock(providerID)
	l.Lock()
	defer l.Unlock()
	// Re-check under the lock: another worker may have seeded it.
	p, err = s.repo.GetProviderProfile(ctx, providerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	p = s.seed(providerID)
	if err := s.repo.UpsertProviderProfile(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *ProfileStore) seed(providerID string) domain.ProviderProfile {
	expected := s.cfg.Defaults.ProviderResponseDays
	name := ""
	if entry, ok := s.cfg.Providers.Catalog[providerID]; ok {
		expected = entry.ExpectedDays
		name = entry.Name
	}
	return domain.ProviderProfile{
		ProviderID: providerID,
		Name:       name,
		MeanDays:   expected,
		P90Days:    expected * 1.5,
		UpdatedAt:  s.Now().UTC(),
	}
}

// ExpectedDays is the latency the engine plans around. Once the profile has
// real samples the tail estimate is trusted over the mean.
func (s *ProfileStore) ExpectedDays(p domain.ProviderProfile) float64 {
	if p.SampleCount >= 5 {
		return p.P90Days
	}
	return p.MeanDays
}

// RecordResolution folds one resolved chase into the provider's statistics.
// Only received and completed chases call this; failed chases carry no
// latency signal.
func (s *ProfileStore) RecordResolution(ctx context.Context, providerID string, latencyDays float64, wasOverdue bool) error {
	if latencyDays < 0 {
		latencyDays = 0
	}
	l := s.lock(providerID)
	l.Lock()
	defer l.Unlock()
	p, err := s.repo.GetProviderProfile(ctx, providerID)
	if errors.Is(err, repo.ErrNotFound) {
		p = s.seed(providerID)
	} else if err != nil {
		return err
	}
	p.SampleCount++
	p.MeanDays += (latencyDays - p.MeanDays) / float64(p.SampleCount)
	if latencyDays > p.P90Days {
		p.P90Days += 0.9 * quantileStep
	} else {
		p.P90Days -= 0.1 * quantileStep
	}
	if p.P90Days < p.MeanDays {
		p.P90Days = p.MeanDays
	}
	if wasOverdue {
		p.OverdueCount++
	}
	p.UpdatedAt = s.Now().UTC()
	return s.repo.UpsertProviderProfile(ctx, p)
}
