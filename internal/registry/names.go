package registry

import (
	"strings"

	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// ResolveFriendlyName picks the display name for a discovered device. The
// sources are tried in order of how authoritative they are:
//
//  1. a name field from the device's own getInfo document (trimmed, otherwise
//     verbatim),
//  2. a name-bearing TXT record from the mDNS advertisement,
//  3. the instance name with service-type suffixes stripped, when that
//     changes it meaningfully,
//  4. the raw instance name.
//
// info may be nil when the device did not answer getInfo.
func ResolveFriendlyName(res discovery.Result, info *zeroconf.DeviceInfo) string {
	if info != nil {
		if name := info.FriendlyName(); name != "" {
			return name
		}
	}

	if name := discovery.FriendlyNameFromTXT(res.TXT); name != "" {
		return name
	}

	instance := strings.TrimSpace(res.InstanceName)
	if cleaned := cleanedInstanceName(instance); cleaned != "" {
		return cleaned
	}
	return instance
}

// cleanedInstanceName strips service-type suffixes and returns the result
// only when it differs from the input and is still long enough to be a name.
func cleanedInstanceName(instance string) string {
	if instance == "" {
		return ""
	}
	cleaned := strings.TrimSpace(discovery.StripServiceSuffix(instance))
	if cleaned != instance && len(cleaned) >= 3 {
		return cleaned
	}
	return ""
}
