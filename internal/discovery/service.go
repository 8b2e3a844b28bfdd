package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/wakehub/wakehub/internal/logging"
)

// DiscoverAll browses the local network for Spotify Connect advertisements
// and returns one result per distinct instance seen within the timeout.
func DiscoverAll(ctx context.Context, timeout time.Duration) ([]Result, error) {
	logger := logging.WithComponent("discovery")
	logger.Debug().Dur("timeout", timeout).Msg("starting mDNS browse")

	results := make([]Result, 0)
	index := make(map[string]int)

	err := browse(ctx, timeout, func(result Result) bool {
		key := strings.ToLower(StripServiceSuffix(result.InstanceName))
		if pos, seen := index[key]; seen {
			// Repeat announcements can fill in addresses the first
			// packet was missing.
			if !results[pos].Complete() && result.Complete() {
				results[pos] = result
			}
			return true
		}
		index[key] = len(results)
		results = append(results, result)
		return true
	})
	if err != nil {
		logger.Error().Err(err).Msg("mDNS browse failed")
		return nil, err
	}

	logger.Info().Int("devices", len(results)).Msg("discovery complete")
	return results, nil
}

// DiscoverByName browses until a result matching the given friendly or
// instance name shows up. Returns nil when nothing matched within the
// timeout; callers must also check Complete on a hit.
func DiscoverByName(ctx context.Context, name string, timeout time.Duration) (*Result, error) {
	logger := logging.WithComponent("discovery")
	logger.Debug().Str("name", name).Dur("timeout", timeout).Msg("looking for device")

	var match *Result
	err := browse(ctx, timeout, func(result Result) bool {
		if result.MatchesName(name) {
			match = &result
			return false
		}
		return true
	})
	if err != nil {
		logger.Error().Err(err).Str("name", name).Msg("mDNS browse failed")
		return nil, err
	}
	if match == nil {
		logger.Debug().Str("name", name).Msg("device not found on local network")
		return nil, nil
	}
	logger.Debug().
		Str("name", name).
		Str("instance", match.InstanceName).
		Str("ip", match.IP).
		Int("port", match.Port).
		Msg("device found")
	return match, nil
}

// Browser adapts the package functions for injection into services that
// declare their own discovery interface. The zero value is ready to use.
type Browser struct{}

func (Browser) DiscoverAll(ctx context.Context, timeout time.Duration) ([]Result, error) {
	return DiscoverAll(ctx, timeout)
}

func (Browser) DiscoverByName(ctx context.Context, name string, timeout time.Duration) (*Result, error) {
	return DiscoverByName(ctx, name, timeout)
}
