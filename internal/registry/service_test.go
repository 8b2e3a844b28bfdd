package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

type fakeBrowser struct {
	mu        sync.Mutex
	all       []discovery.Result
	allErr    error
	byName    map[string]*discovery.Result
	allCalls  int
	nameCalls []string
}

func (f *fakeBrowser) DiscoverAll(ctx context.Context, timeout time.Duration) ([]discovery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if f.allErr != nil {
		return nil, f.allErr
	}
	return append([]discovery.Result(nil), f.all...), nil
}

func (f *fakeBrowser) DiscoverByName(ctx context.Context, name string, timeout time.Duration) (*discovery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls = append(f.nameCalls, name)
	if res, ok := f.byName[name]; ok {
		copied := *res
		return &copied, nil
	}
	return nil, nil
}

type fakeProber struct {
	mu     sync.Mutex
	infos  map[string]*zeroconf.DeviceInfo // keyed by "ip:port"
	health map[string]zeroconf.HealthStatus
}

func (f *fakeProber) GetInfo(ctx context.Context, ep zeroconf.Endpoint) (*zeroconf.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.infos[probeKey(ep)]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("getInfo %s: no answer", probeKey(ep))
}

func (f *fakeProber) Health(ctx context.Context, ep zeroconf.Endpoint) zeroconf.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.health[probeKey(ep)]; ok {
		return h
	}
	return zeroconf.HealthStatus{Responding: false, Error: "unreachable"}
}

func probeKey(ep zeroconf.Endpoint) string {
	return fmt.Sprintf("%s:%d", ep.IP, ep.Port)
}

func newTestService(t *testing.T) (*Service, *Repository, *fakeBrowser, *fakeProber, *clockwork.FakeClock) {
	t.Helper()
	repo := setupTestRepo(t)
	browser := &fakeBrowser{byName: make(map[string]*discovery.Result)}
	prober := &fakeProber{
		infos:  make(map[string]*zeroconf.DeviceInfo),
		health: make(map[string]zeroconf.HealthStatus),
	}
	clock := clockwork.NewFakeClock()
	service := NewService(repo, browser, prober, 1500*time.Millisecond, 300*time.Second, clock)
	return service, repo, browser, prober, clock
}

func TestServiceDiscover_CreatesProfiles(t *testing.T) {
	service, _, browser, prober, _ := newTestService(t)

	browser.all = []discovery.Result{
		{
			InstanceName: "kitchen123._spotify-connect._tcp.local.",
			IP:           "192.168.1.40",
			Port:         8200,
			CPath:        "/zc/",
		},
		{
			InstanceName: "office._spotify-connect._tcp.local.",
			IP:           "192.168.1.41",
			Port:         8200,
			TXT:          map[string]string{"CN": "Office Speaker"},
		},
	}
	prober.infos["192.168.1.40:8200"] = &zeroconf.DeviceInfo{RemoteName: "Kitchen Speaker"}
	prober.health["192.168.1.40:8200"] = zeroconf.HealthStatus{Responding: true, ResponseTimeMS: 12}

	profiles, err := service.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	byName := make(map[string]*DeviceProfile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}

	kitchen := byName["Kitchen Speaker"]
	require.NotNil(t, kitchen, "getInfo name wins")
	assert.Equal(t, "192.168.1.40", kitchen.IP)
	assert.Equal(t, 8200, kitchen.Port)
	assert.Equal(t, "/zc", kitchen.CPath)
	assert.Equal(t, DefaultVolumePreset, kitchen.VolumePreset)
	assert.Equal(t, "kitchen123._spotify-connect._tcp.local.", kitchen.InstanceName)
	require.NotNil(t, kitchen.LastSeenAt)

	office := byName["Office Speaker"]
	require.NotNil(t, office, "TXT name when getInfo is silent")
	assert.Equal(t, DefaultCPath, office.CPath)

	health := service.HealthFor("Kitchen Speaker")
	require.NotNil(t, health)
	assert.True(t, health.Responding)
	assert.Equal(t, int64(12), health.ResponseTimeMS)

	offline := service.HealthFor("Office Speaker")
	require.NotNil(t, offline)
	assert.False(t, offline.Responding)
}

func TestServiceDiscover_CacheTTL(t *testing.T) {
	service, _, browser, _, clock := newTestService(t)

	browser.all = []discovery.Result{
		{InstanceName: "Kitchen._spotify-connect._tcp.local.", IP: "192.168.1.40", Port: 8200},
	}

	_, err := service.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, browser.allCalls)

	// Within the TTL the cached sweep is served.
	profiles, err := service.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, browser.allCalls)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Kitchen", profiles[0].Name)

	// force bypasses the cache.
	_, err = service.Discover(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, browser.allCalls)

	// An expired cache sweeps again.
	clock.Advance(301 * time.Second)
	_, err = service.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, browser.allCalls)
}

func TestServiceDiscover_SkipsIncompleteAdvertisements(t *testing.T) {
	service, _, browser, _, _ := newTestService(t)

	browser.all = []discovery.Result{
		{InstanceName: "ghost._spotify-connect._tcp.local.", IP: "", Port: 0},
		{InstanceName: "Kitchen._spotify-connect._tcp.local.", IP: "192.168.1.40", Port: 8200},
	}

	profiles, err := service.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Kitchen", profiles[0].Name)
}

func TestServiceDiscover_PreservesLearnedFields(t *testing.T) {
	service, repo, browser, prober, _ := newTestService(t)

	wakeWait := 30
	require.NoError(t, repo.Upsert(&DeviceProfile{
		Name:               "Kitchen Speaker",
		SpotifyDeviceNames: []string{"Kitchen Speaker 2"},
		VolumePreset:       55,
		MaxWakeWaitSec:     &wakeWait,
		IP:                 "192.168.1.99",
		Port:               8200,
	}))

	browser.all = []discovery.Result{
		{InstanceName: "kitchen123._spotify-connect._tcp.local.", IP: "192.168.1.40", Port: 8201},
	}
	prober.infos["192.168.1.40:8201"] = &zeroconf.DeviceInfo{RemoteName: "Kitchen Speaker"}

	profiles, err := service.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	kitchen := profiles[0]
	assert.Equal(t, "Kitchen Speaker", kitchen.Name)
	assert.Equal(t, "192.168.1.40", kitchen.IP, "endpoint is refreshed")
	assert.Equal(t, 8201, kitchen.Port)
	assert.Equal(t, []string{"Kitchen Speaker 2"}, kitchen.SpotifyDeviceNames, "learned names survive")
	assert.Equal(t, 55, kitchen.VolumePreset, "tuned volume survives")
	require.NotNil(t, kitchen.MaxWakeWaitSec)
	assert.Equal(t, 30, *kitchen.MaxWakeWaitSec)
}

func TestServiceGetOrCreate(t *testing.T) {
	t.Run("known name needs no discovery", func(t *testing.T) {
		service, repo, browser, _, _ := newTestService(t)
		require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen"}))

		profile, err := service.GetOrCreate(context.Background(), "Kitchen")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, "Kitchen", profile.Name)
		assert.Empty(t, browser.nameCalls)
	})

	t.Run("learned cloud name lands on the same profile", func(t *testing.T) {
		service, repo, browser, _, _ := newTestService(t)
		require.NoError(t, repo.Upsert(&DeviceProfile{
			Name:               "Kitchen",
			SpotifyDeviceNames: []string{"Kitchen Speaker"},
		}))

		profile, err := service.GetOrCreate(context.Background(), "kitchen speaker")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, "Kitchen", profile.Name)
		assert.Empty(t, browser.nameCalls)
	})

	t.Run("unknown name falls back to targeted discovery", func(t *testing.T) {
		service, repo, browser, _, _ := newTestService(t)
		browser.byName["Attic"] = &discovery.Result{
			InstanceName: "Attic._spotify-connect._tcp.local.",
			IP:           "192.168.1.77",
			Port:         8200,
		}

		profile, err := service.GetOrCreate(context.Background(), "Attic")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, "Attic", profile.Name)
		assert.Equal(t, "192.168.1.77", profile.IP)

		stored, err := repo.GetByName("Attic")
		require.NoError(t, err)
		require.NotNil(t, stored, "discovered profile is persisted")
	})

	t.Run("silent network yields nil", func(t *testing.T) {
		service, _, _, _, _ := newTestService(t)

		profile, err := service.GetOrCreate(context.Background(), "Nowhere")
		require.NoError(t, err)
		assert.Nil(t, profile)
	})
}

func TestServiceUpdateLearned(t *testing.T) {
	service, repo, _, _, _ := newTestService(t)
	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen"}))

	require.NoError(t, service.UpdateLearned("Kitchen", "Kitchen Speaker"))

	got, err := repo.GetByName("Kitchen")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kitchen Speaker"}, got.SpotifyDeviceNames)

	// Learning the same name again (any casing) writes nothing new.
	require.NoError(t, service.UpdateLearned("Kitchen", "KITCHEN SPEAKER"))
	got, err = repo.GetByName("Kitchen")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kitchen Speaker"}, got.SpotifyDeviceNames)

	// Learning against an unknown profile materializes it.
	require.NoError(t, service.UpdateLearned("Attic", "Attic Speaker"))
	attic, err := repo.GetByName("Attic")
	require.NoError(t, err)
	require.NotNil(t, attic)
	assert.Equal(t, []string{"Attic Speaker"}, attic.SpotifyDeviceNames)
	assert.Equal(t, DefaultVolumePreset, attic.VolumePreset)

	// Blank learned names are ignored.
	require.NoError(t, service.UpdateLearned("Kitchen", "   "))
}

func TestServiceUpdateSettings(t *testing.T) {
	service, repo, _, _, _ := newTestService(t)
	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen", VolumePreset: 30}))

	volume := 70
	profile, err := service.UpdateSettings("Kitchen", &volume, nil)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 70, profile.VolumePreset)
	assert.Nil(t, profile.MaxWakeWaitSec)

	wakeWait := 45
	profile, err = service.UpdateSettings("Kitchen", nil, &wakeWait)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 70, profile.VolumePreset, "untouched field survives")
	require.NotNil(t, profile.MaxWakeWaitSec)
	assert.Equal(t, 45, *profile.MaxWakeWaitSec)

	missing, err := service.UpdateSettings("Nowhere", &volume, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceApplyTargets(t *testing.T) {
	service, repo, _, _, _ := newTestService(t)

	volume := 40
	wakeWait := 25
	require.NoError(t, service.ApplyTargets([]config.Target{
		{
			Name:               "Kitchen",
			IP:                 "192.168.1.40",
			Port:               8200,
			CPath:              "zc/",
			VolumePreset:       &volume,
			MaxWakeWaitSec:     &wakeWait,
			SpotifyDeviceNames: []string{"Kitchen Speaker"},
		},
	}))

	kitchen, err := repo.GetByName("Kitchen")
	require.NoError(t, err)
	require.NotNil(t, kitchen)
	assert.Equal(t, "192.168.1.40", kitchen.IP)
	assert.Equal(t, "/zc", kitchen.CPath)
	assert.Equal(t, 40, kitchen.VolumePreset)
	assert.Equal(t, []string{"Kitchen Speaker"}, kitchen.SpotifyDeviceNames)

	// Runtime learning happens between boots.
	require.NoError(t, service.UpdateLearned("Kitchen", "Kitchen Speaker 2"))

	// Re-applying the same targets keeps learned names and untouched fields.
	require.NoError(t, service.ApplyTargets([]config.Target{
		{Name: "Kitchen", IP: "192.168.1.41"},
	}))

	kitchen, err = repo.GetByName("Kitchen")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.41", kitchen.IP)
	assert.Equal(t, 40, kitchen.VolumePreset, "absent target fields do not reset tuning")
	assert.ElementsMatch(t, []string{"Kitchen Speaker", "Kitchen Speaker 2"}, kitchen.SpotifyDeviceNames)
}

func TestServiceProbe(t *testing.T) {
	t.Run("unknown device", func(t *testing.T) {
		service, _, _, _, _ := newTestService(t)

		profile, _, err := service.Probe(context.Background(), "Nowhere")
		require.NoError(t, err)
		assert.Nil(t, profile)
	})

	t.Run("known endpoint is probed and cached", func(t *testing.T) {
		service, repo, _, prober, _ := newTestService(t)
		require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen", IP: "192.168.1.40", Port: 8200}))
		prober.health["192.168.1.40:8200"] = zeroconf.HealthStatus{Responding: true, ResponseTimeMS: 8}

		profile, health, err := service.Probe(context.Background(), "Kitchen")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.True(t, health.Responding)

		cached := service.HealthFor("Kitchen")
		require.NotNil(t, cached)
		assert.Equal(t, int64(8), cached.ResponseTimeMS)
	})

	t.Run("missing endpoint triggers targeted discovery", func(t *testing.T) {
		service, repo, browser, prober, _ := newTestService(t)
		require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Attic"}))
		browser.byName["Attic"] = &discovery.Result{
			InstanceName: "Attic._spotify-connect._tcp.local.",
			IP:           "192.168.1.77",
			Port:         8200,
		}
		prober.health["192.168.1.77:8200"] = zeroconf.HealthStatus{Responding: true}

		profile, health, err := service.Probe(context.Background(), "Attic")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, "192.168.1.77", profile.IP)
		assert.True(t, health.Responding)
	})

	t.Run("no endpoint anywhere reports unreachable", func(t *testing.T) {
		service, repo, _, _, _ := newTestService(t)
		require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Basement"}))

		profile, health, err := service.Probe(context.Background(), "Basement")
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.False(t, health.Responding)
		assert.NotEmpty(t, health.Error)
	})
}

func TestServiceMarkSeen(t *testing.T) {
	service, repo, _, _, _ := newTestService(t)
	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen"}))

	require.NoError(t, service.MarkSeen("Kitchen", zeroconf.Endpoint{IP: "192.168.1.40", Port: 8200, CPath: "/zc/"}))

	got, err := repo.GetByName("Kitchen")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", got.IP)
	assert.Equal(t, 8200, got.Port)
	assert.Equal(t, "/zc", got.CPath)
	require.NotNil(t, got.LastSeenAt)

	// Unknown devices are a quiet no-op.
	require.NoError(t, service.MarkSeen("Nowhere", zeroconf.Endpoint{IP: "10.0.0.1", Port: 1}))
}

func TestServiceLastSweep(t *testing.T) {
	service, _, _, _, clock := newTestService(t)

	require.Nil(t, service.LastSweep())

	_, err := service.Discover(context.Background(), false)
	require.NoError(t, err)

	sweep := service.LastSweep()
	require.NotNil(t, sweep)
	assert.Equal(t, clock.Now(), *sweep)
}
