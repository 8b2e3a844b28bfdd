// Package registry maintains the persistent profiles of the speakers the hub
// can wake: who they are (friendly name plus every name they have presented
// to the cloud), where they live on the LAN (ip/port/cpath), and how to treat
// them (volume preset, wake-wait override). Profiles are keyed by friendly
// name and stored in SQLite; discovery refreshes them and playback runs learn
// new cloud names into them.
package registry

import (
	"strings"
	"time"

	"github.com/wakehub/wakehub/internal/zeroconf"
)

const (
	// DefaultCPath is the ZeroConf control path assumed when a device does
	// not advertise one (or advertises "" / "/").
	DefaultCPath = "/spotifyconnect/zeroconf"

	// DefaultVolumePreset is applied to profiles created without an explicit
	// preset.
	DefaultVolumePreset = 30
)

// DeviceProfile is the persistent record for one speaker. The name is the
// stable identity; every other field may be learned or refined on each run.
type DeviceProfile struct {
	Name               string     `json:"name"`
	InstanceName       string     `json:"instance_name"`
	SpotifyDeviceNames []string   `json:"spotify_device_names"`
	IP                 string     `json:"ip"`
	Port               int        `json:"port"`
	CPath              string     `json:"cpath"`
	VolumePreset       int        `json:"volume_preset"`
	MaxWakeWaitSec     *int       `json:"max_wake_wait_s,omitempty"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasEndpoint reports whether the profile carries a usable local control
// endpoint.
func (p *DeviceProfile) HasEndpoint() bool {
	return p.IP != "" && p.Port > 0
}

// Endpoint returns the profile's ZeroConf control endpoint with the cpath
// normalized.
func (p *DeviceProfile) Endpoint() zeroconf.Endpoint {
	return zeroconf.Endpoint{IP: p.IP, Port: p.Port, CPath: NormalizeCPath(p.CPath)}
}

// AllMatchingNames returns every name this device answers to: the friendly
// name, the mDNS instance name, and any names it has previously presented to
// the cloud. Empty entries are dropped and duplicates collapse (compared
// case-insensitively) while the first-seen spelling is kept.
func (p *DeviceProfile) AllMatchingNames() []string {
	names := make([]string, 0, 2+len(p.SpotifyDeviceNames))
	seen := make(map[string]struct{}, 2+len(p.SpotifyDeviceNames))

	add := func(name string) {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return
		}
		key := NormalizeName(trimmed)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, trimmed)
	}

	add(p.Name)
	add(p.InstanceName)
	for _, name := range p.SpotifyDeviceNames {
		add(name)
	}
	return names
}

// KnowsCloudName reports whether the given cloud-presented name is already
// recorded on the profile.
func (p *DeviceProfile) KnowsCloudName(name string) bool {
	want := NormalizeName(name)
	for _, existing := range p.SpotifyDeviceNames {
		if NormalizeName(existing) == want {
			return true
		}
	}
	return false
}

// Synthesize builds a minimal profile for a name the registry has never seen,
// so callers can still attempt a wake with defaults.
func Synthesize(name string) *DeviceProfile {
	return &DeviceProfile{
		Name:               strings.TrimSpace(name),
		SpotifyDeviceNames: []string{},
		CPath:              DefaultCPath,
		VolumePreset:       DefaultVolumePreset,
	}
}

// NormalizeName canonicalizes a device name for matching: surrounding
// whitespace trimmed, then lowercased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeCPath canonicalizes a ZeroConf control path. Empty and "/" map to
// the default path; otherwise the result always starts with "/" and never
// ends with one.
func NormalizeCPath(cpath string) string {
	p := strings.TrimSpace(cpath)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return DefaultCPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
