package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/metrics"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// Discoverer finds Spotify Connect advertisements on the local network.
type Discoverer interface {
	DiscoverAll(ctx context.Context, timeout time.Duration) ([]discovery.Result, error)
	DiscoverByName(ctx context.Context, name string, timeout time.Duration) (*discovery.Result, error)
}

// Prober speaks the device-local HTTP API, used here for friendly names and
// liveness.
type Prober interface {
	GetInfo(ctx context.Context, ep zeroconf.Endpoint) (*zeroconf.DeviceInfo, error)
	Health(ctx context.Context, ep zeroconf.Endpoint) zeroconf.HealthStatus
}

// Service owns device profiles: it discovers devices, merges what it learns
// into persistent profiles, and caches the most recent sweep so callers do
// not trigger an mDNS browse on every request.
type Service struct {
	repo    *Repository
	browser Discoverer
	prober  Prober
	clock   clockwork.Clock
	logger  zerolog.Logger

	timeout  time.Duration
	cacheTTL time.Duration

	mu       sync.RWMutex
	cached   []*DeviceProfile
	cachedAt time.Time
	health   map[string]zeroconf.HealthStatus
}

// NewService creates a registry service. timeout bounds a single mDNS browse;
// cacheTTL bounds how long a sweep's results are served without re-browsing.
func NewService(repo *Repository, browser Discoverer, prober Prober, timeout, cacheTTL time.Duration, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:     repo,
		browser:  browser,
		prober:   prober,
		clock:    clock,
		logger:   logging.WithComponent("registry"),
		timeout:  timeout,
		cacheTTL: cacheTTL,
		health:   make(map[string]zeroconf.HealthStatus),
	}
}

// List returns every persisted profile ordered by name.
func (s *Service) List() ([]*DeviceProfile, error) {
	return s.repo.List()
}

// Get returns the profile with the given friendly name, or nil when unknown.
func (s *Service) Get(name string) (*DeviceProfile, error) {
	return s.repo.GetByName(name)
}

// LastSweep returns when the most recent discovery sweep finished, or nil
// when no sweep has run since startup.
func (s *Service) LastSweep() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cachedAt.IsZero() {
		return nil
	}
	t := s.cachedAt
	return &t
}

// HealthFor returns the most recent health probe for the named device, or
// nil when it has never been probed.
func (s *Service) HealthFor(name string) *zeroconf.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.health[name]; ok {
		copied := h
		return &copied
	}
	return nil
}

// Discover sweeps the network for devices and refreshes their profiles. When
// the previous sweep is younger than the cache TTL and force is false, the
// cached results are returned instead.
func (s *Service) Discover(ctx context.Context, force bool) ([]*DeviceProfile, error) {
	s.mu.RLock()
	if !force && !s.cachedAt.IsZero() && s.clock.Since(s.cachedAt) < s.cacheTTL {
		cached := append([]*DeviceProfile(nil), s.cached...)
		s.mu.RUnlock()
		s.logger.Debug().Int("devices", len(cached)).Msg("using cached discovery results")
		return cached, nil
	}
	s.mu.RUnlock()

	results, err := s.browser.DiscoverAll(ctx, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("discover devices: %w", err)
	}
	s.logger.Info().Int("advertisements", len(results)).Msg("discovery sweep finished")

	type resolved struct {
		res    discovery.Result
		info   *zeroconf.DeviceInfo
		health zeroconf.HealthStatus
	}

	complete := results[:0]
	for _, res := range results {
		if !res.Complete() {
			s.logger.Warn().Str("instance", res.InstanceName).Msg("skipping incomplete advertisement")
			continue
		}
		complete = append(complete, res)
	}

	// Probe every device in parallel; each probe is bounded by its own
	// timeout so the sweep cost stays flat in the device count.
	entries := make([]resolved, len(complete))
	var wg sync.WaitGroup
	for i, res := range complete {
		wg.Add(1)
		go func(i int, res discovery.Result) {
			defer wg.Done()
			ep := zeroconf.Endpoint{IP: res.IP, Port: res.Port, CPath: NormalizeCPath(res.CPath)}
			info, err := s.prober.GetInfo(ctx, ep)
			if err != nil {
				s.logger.Debug().Err(err).Str("instance", res.InstanceName).Msg("getInfo probe failed")
			}
			entries[i] = resolved{res: res, info: info, health: s.prober.Health(ctx, ep)}
		}(i, res)
	}
	wg.Wait()

	now := s.clock.Now().UTC()
	profiles := make([]*DeviceProfile, 0, len(entries))
	healthByName := make(map[string]zeroconf.HealthStatus, len(entries))
	for _, entry := range entries {
		profile, err := s.mergeDiscovered(entry.res, entry.info, now)
		if err != nil {
			s.logger.Error().Err(err).Str("instance", entry.res.InstanceName).Msg("failed to persist profile")
			continue
		}
		profiles = append(profiles, profile)
		healthByName[profile.Name] = entry.health

		if entry.health.Responding {
			s.logger.Info().Str("device", profile.Name).Int64("response_time_ms", entry.health.ResponseTimeMS).Msg("device online")
		} else {
			s.logger.Warn().Str("device", profile.Name).Str("error", entry.health.Error).Msg("device offline")
		}
	}

	s.mu.Lock()
	s.cached = profiles
	s.cachedAt = s.clock.Now()
	for name, h := range healthByName {
		s.health[name] = h
	}
	s.mu.Unlock()

	metrics.SetDiscoveredDevices(len(profiles))
	return profiles, nil
}

// GetOrCreate returns the profile for name, looking it up by any known alias
// and falling back to a targeted discovery. Returns nil when the device is
// neither known nor reachable; callers decide whether that is fatal.
func (s *Service) GetOrCreate(ctx context.Context, name string) (*DeviceProfile, error) {
	profile, err := s.findByAnyName(name)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	s.logger.Info().Str("device", name).Msg("device not in registry, attempting discovery")
	res, err := s.browser.DiscoverByName(ctx, name, s.timeout)
	if err != nil {
		s.logger.Debug().Err(err).Str("device", name).Msg("targeted discovery failed")
		return nil, nil
	}
	if res == nil || !res.Complete() {
		return nil, nil
	}

	ep := zeroconf.Endpoint{IP: res.IP, Port: res.Port, CPath: NormalizeCPath(res.CPath)}
	info, err := s.prober.GetInfo(ctx, ep)
	if err != nil {
		s.logger.Debug().Err(err).Str("device", name).Msg("getInfo probe failed")
	}
	return s.mergeDiscovered(*res, info, s.clock.Now().UTC())
}

// UpdateLearned records a name the cloud used for this device so later runs
// can match on it. Idempotent: recording a known name writes nothing.
func (s *Service) UpdateLearned(name, cloudName string) error {
	if NormalizeName(cloudName) == "" {
		return nil
	}

	profile, err := s.repo.GetByName(name)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = Synthesize(name)
	}
	if profile.KnowsCloudName(cloudName) {
		return nil
	}

	profile.SpotifyDeviceNames = append(profile.SpotifyDeviceNames, cloudName)
	if err := s.repo.Upsert(profile); err != nil {
		return err
	}
	s.logger.Info().Str("device", name).Str("cloud_name", cloudName).Msg("learned cloud device name")
	return nil
}

// UpdateSettings changes the tunable fields of a profile. Nil fields are
// left untouched. Returns nil when the profile does not exist.
func (s *Service) UpdateSettings(name string, volumePreset, maxWakeWaitSec *int) (*DeviceProfile, error) {
	profile, err := s.repo.GetByName(name)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	if volumePreset != nil {
		profile.VolumePreset = *volumePreset
	}
	if maxWakeWaitSec != nil {
		profile.MaxWakeWaitSec = maxWakeWaitSec
	}
	if err := s.repo.Upsert(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// ApplyTargets seeds profiles from the targets file. Seeded fields win over
// previously discovered values, but learned cloud names are kept.
func (s *Service) ApplyTargets(targets []config.Target) error {
	for _, target := range targets {
		profile, err := s.repo.GetByName(target.Name)
		if err != nil {
			return err
		}
		if profile == nil {
			profile = Synthesize(target.Name)
		}

		if target.IP != "" {
			profile.IP = target.IP
		}
		if target.Port > 0 {
			profile.Port = target.Port
		}
		if target.CPath != "" {
			profile.CPath = NormalizeCPath(target.CPath)
		}
		if target.VolumePreset != nil {
			profile.VolumePreset = *target.VolumePreset
		}
		if target.MaxWakeWaitSec != nil {
			profile.MaxWakeWaitSec = target.MaxWakeWaitSec
		}
		for _, cloudName := range target.SpotifyDeviceNames {
			if !profile.KnowsCloudName(cloudName) {
				profile.SpotifyDeviceNames = append(profile.SpotifyDeviceNames, cloudName)
			}
		}

		if err := s.repo.Upsert(profile); err != nil {
			return fmt.Errorf("apply target %q: %w", target.Name, err)
		}
	}
	if len(targets) > 0 {
		s.logger.Info().Int("targets", len(targets)).Msg("applied targets file")
	}
	return nil
}

// Probe runs a live health check against the named device, refreshing its
// endpoint through discovery when the profile has none. Returns a nil profile
// when the device is unknown.
func (s *Service) Probe(ctx context.Context, name string) (*DeviceProfile, zeroconf.HealthStatus, error) {
	profile, err := s.repo.GetByName(name)
	if err != nil {
		return nil, zeroconf.HealthStatus{}, err
	}
	if profile == nil {
		return nil, zeroconf.HealthStatus{}, nil
	}

	if !profile.HasEndpoint() {
		res, err := s.browser.DiscoverByName(ctx, name, s.timeout)
		if err == nil && res != nil && res.Complete() {
			if merged, err := s.mergeDiscovered(*res, nil, s.clock.Now().UTC()); err == nil {
				profile = merged
			}
		}
	}
	if !profile.HasEndpoint() {
		return profile, zeroconf.HealthStatus{Responding: false, Error: "no known endpoint"}, nil
	}

	health := s.prober.Health(ctx, profile.Endpoint())

	s.mu.Lock()
	s.health[profile.Name] = health
	s.mu.Unlock()

	if health.Responding {
		if err := s.MarkSeen(profile.Name, profile.Endpoint()); err != nil {
			s.logger.Warn().Err(err).Str("name", profile.Name).Msg("could not refresh last-seen after probe")
		}
	}

	return profile, health, nil
}

// MarkSeen refreshes a profile's endpoint and last-seen timestamp after a
// successful local interaction outside a discovery sweep.
func (s *Service) MarkSeen(name string, ep zeroconf.Endpoint) error {
	profile, err := s.repo.GetByName(name)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	profile.IP = ep.IP
	profile.Port = ep.Port
	profile.CPath = NormalizeCPath(ep.CPath)
	now := s.clock.Now().UTC()
	profile.LastSeenAt = &now
	return s.repo.Upsert(profile)
}

// findByAnyName looks a profile up by friendly name first, then by any alias
// in AllMatchingNames so callers that know a device only by a learned cloud
// name or its mDNS instance still land on the same profile.
func (s *Service) findByAnyName(name string) (*DeviceProfile, error) {
	profile, err := s.repo.GetByName(name)
	if err != nil || profile != nil {
		return profile, err
	}

	want := NormalizeName(name)
	if want == "" {
		return nil, nil
	}
	profiles, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	for _, candidate := range profiles {
		for _, alias := range candidate.AllMatchingNames() {
			if NormalizeName(alias) == want {
				return candidate, nil
			}
		}
	}
	return nil, nil
}

// mergeDiscovered folds a discovery result into the matching profile (or a
// new one) and persists it. Learned names, volume preset, and wake-wait
// override survive; endpoint fields and instance name are refreshed.
func (s *Service) mergeDiscovered(res discovery.Result, info *zeroconf.DeviceInfo, now time.Time) (*DeviceProfile, error) {
	name := ResolveFriendlyName(res, info)
	if name == "" {
		return nil, fmt.Errorf("no usable name for advertisement %q", res.InstanceName)
	}

	profile, err := s.findByAnyName(name)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = Synthesize(name)
		s.logger.Info().Str("device", name).Str("ip", res.IP).Int("port", res.Port).Msg("created profile")
	}

	profile.InstanceName = res.InstanceName
	profile.IP = res.IP
	profile.Port = res.Port
	profile.CPath = NormalizeCPath(res.CPath)
	profile.LastSeenAt = &now

	if err := s.repo.Upsert(profile); err != nil {
		return nil, err
	}
	return profile, nil
}
