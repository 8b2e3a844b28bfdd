package orchestrator

import (
	"github.com/wakehub/wakehub/internal/cloud"
	"github.com/wakehub/wakehub/internal/registry"
)

// pickDevice returns the first cloud device whose normalized name is an
// exact member of the target's known names. No prefix, substring, or
// distance heuristics: a device that renames itself is matched only after
// its new name has been learned.
func pickDevice(devices []cloud.CloudDevice, matchingNames []string) *cloud.CloudDevice {
	allowed := make(map[string]struct{}, len(matchingNames))
	for _, name := range matchingNames {
		if normalized := registry.NormalizeName(name); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	for i := range devices {
		name := registry.NormalizeName(devices[i].Name)
		if name == "" {
			continue
		}
		if _, ok := allowed[name]; ok {
			return &devices[i]
		}
	}
	return nil
}
