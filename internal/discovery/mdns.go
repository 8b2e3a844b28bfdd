package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType   = "_spotify-connect._tcp"
	serviceDomain = "local."
)

// browse runs a single mDNS query window and hands every entry to visit.
// Returning false from visit ends the browse early.
func browse(ctx context.Context, timeout time.Duration, visit func(Result) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(browseCtx, serviceType, serviceDomain, entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}

	for entry := range entries {
		if entry == nil {
			continue
		}
		if !visit(resultFromEntry(entry)) {
			cancel()
			// Drain so the resolver can close the channel and exit.
			go func() {
				for range entries {
				}
			}()
			return nil
		}
	}
	return nil
}

func resultFromEntry(entry *zeroconf.ServiceEntry) Result {
	txt := ParseTXT(entry.Text)
	result := Result{
		InstanceName: entry.Instance,
		Port:         entry.Port,
		CPath:        TXTValue(txt, "CPath"),
		TXT:          txt,
		DiscoveredAt: time.Now(),
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		result.IP = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		result.IP = entry.AddrIPv6[0].String()
	}
	return result
}
