package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", DefaultCPath},
		{"/", DefaultCPath},
		{"//", DefaultCPath},
		{"///", DefaultCPath},
		{"  ", DefaultCPath},
		{" / ", DefaultCPath},
		{DefaultCPath, DefaultCPath},
		{"/zc", "/zc"},
		{"zc", "/zc"},
		{"/zc/", "/zc"},
		{"zc//", "/zc"},
		{" /zc ", "/zc"},
		{"/a/b/", "/a/b"},
		{"spotifyconnect/zeroconf", "/spotifyconnect/zeroconf"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeCPath(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeCPath_Invariants(t *testing.T) {
	inputs := []string{
		"", "/", "zc", "/zc", "zc/", "/zc/", "a/b/c", "/a/b/c/", "//x//",
		DefaultCPath, "  /weird path/ ", "trailing////",
	}

	for _, in := range inputs {
		got := NormalizeCPath(in)

		assert.True(t, strings.HasPrefix(got, "/"), "result %q must start with /", got)
		assert.False(t, strings.HasSuffix(got, "/"), "result %q must not end with /", got)

		// Normalization is idempotent.
		assert.Equal(t, got, NormalizeCPath(got), "input %q", in)
	}
}

func TestDeviceProfile_AllMatchingNames(t *testing.T) {
	profile := &DeviceProfile{
		Name:               "Kitchen Speaker",
		InstanceName:       "Kitchen._spotify-connect._tcp.local.",
		SpotifyDeviceNames: []string{"KITCHEN SPEAKER", "Kitchen", "", "  "},
	}

	names := profile.AllMatchingNames()

	// Friendly name, instance name, and the one genuinely new cloud name.
	require.Equal(t, []string{"Kitchen Speaker", "Kitchen._spotify-connect._tcp.local.", "Kitchen"}, names)
}

func TestDeviceProfile_AllMatchingNames_Empty(t *testing.T) {
	profile := &DeviceProfile{}
	assert.Empty(t, profile.AllMatchingNames())
}

func TestDeviceProfile_KnowsCloudName(t *testing.T) {
	profile := &DeviceProfile{SpotifyDeviceNames: []string{"Kitchen Speaker"}}

	assert.True(t, profile.KnowsCloudName("Kitchen Speaker"))
	assert.True(t, profile.KnowsCloudName("  kitchen speaker  "))
	assert.False(t, profile.KnowsCloudName("Bedroom"))
}

func TestSynthesize(t *testing.T) {
	profile := Synthesize("  Attic  ")

	assert.Equal(t, "Attic", profile.Name)
	assert.Equal(t, DefaultCPath, profile.CPath)
	assert.Equal(t, DefaultVolumePreset, profile.VolumePreset)
	assert.NotNil(t, profile.SpotifyDeviceNames)
	assert.False(t, profile.HasEndpoint())
}

func TestDeviceProfile_Endpoint(t *testing.T) {
	profile := &DeviceProfile{IP: "192.168.1.40", Port: 8200, CPath: "zc/"}

	require.True(t, profile.HasEndpoint())
	ep := profile.Endpoint()
	assert.Equal(t, "192.168.1.40", ep.IP)
	assert.Equal(t, 8200, ep.Port)
	assert.Equal(t, "/zc", ep.CPath)

	assert.False(t, (&DeviceProfile{IP: "", Port: 8200}).HasEndpoint())
	assert.False(t, (&DeviceProfile{IP: "192.168.1.40", Port: 0}).HasEndpoint())
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "kitchen speaker", NormalizeName("  Kitchen Speaker "))
	assert.Equal(t, "", NormalizeName("   "))
}
