package discovery

import (
	"strings"
	"time"
)

// nameTXTKeys are the TXT fields that may carry a friendly name, in
// priority order.
var nameTXTKeys = []string{"CN", "Name", "DisplayName", "FriendlyName"}

// serviceSuffixes are the service-type qualifiers devices append to their
// advertised instance names. Longest first so the most specific form wins.
var serviceSuffixes = []string{
	"._spotify-connect._tcp.local.",
	"._spotify-connect._tcp.local",
	"_spotify-connect._tcp.local.",
	"_spotify-connect._tcp.local",
	".spotify-connect._tcp.local.",
	".spotify-connect._tcp.local",
	"._spotify-connect",
	"_spotify-connect",
	".spotify-connect",
}

// Result is a single Spotify Connect advertisement seen on the local network.
type Result struct {
	InstanceName string
	IP           string
	Port         int
	CPath        string
	TXT          map[string]string
	DiscoveredAt time.Time
}

// Complete reports whether the advertisement resolved far enough to contact
// the device. Incomplete results are still returned so callers can log them.
func (r Result) Complete() bool {
	return r.IP != "" && r.Port > 0
}

// MatchesName reports whether the result answers to the given friendly or
// instance name. Both sides are compared case-insensitively after stripping
// service-type suffixes; name-bearing TXT records count as well.
func (r Result) MatchesName(name string) bool {
	want := strings.ToLower(StripServiceSuffix(name))
	if want == "" {
		return false
	}
	if strings.ToLower(StripServiceSuffix(r.InstanceName)) == want {
		return true
	}
	for _, key := range nameTXTKeys {
		if v := strings.TrimSpace(TXTValue(r.TXT, key)); v != "" && strings.ToLower(v) == want {
			return true
		}
	}
	return false
}

// ParseTXT splits raw mDNS TXT records into a key/value map. Records without
// an "=" are kept as flag keys with an empty value.
func ParseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, record := range records {
		if record == "" {
			continue
		}
		key, value, found := strings.Cut(record, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			txt[key] = ""
			continue
		}
		txt[key] = strings.TrimSpace(value)
	}
	return txt
}

// TXTValue looks up a TXT key case-insensitively and returns "" when absent.
func TXTValue(txt map[string]string, key string) string {
	if v, ok := txt[key]; ok {
		return v
	}
	for k, v := range txt {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// StripServiceSuffix removes a trailing service-type qualifier from an mDNS
// instance name, plus any leftover separator dot.
func StripServiceSuffix(name string) string {
	n := strings.TrimSpace(name)
	lower := strings.ToLower(n)
	for _, suffix := range serviceSuffixes {
		if strings.HasSuffix(lower, suffix) {
			n = strings.TrimSpace(n[:len(n)-len(suffix)])
			break
		}
	}
	return strings.TrimSuffix(n, ".")
}

// FriendlyNameFromTXT returns the first non-empty name-bearing TXT value.
func FriendlyNameFromTXT(txt map[string]string) string {
	for _, key := range nameTXTKeys {
		if v := strings.TrimSpace(TXTValue(txt, key)); v != "" {
			return v
		}
	}
	return ""
}
