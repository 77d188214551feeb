package dnszone

import "strings"

// ChallengePrefix is the label prepended to a hostname for DNS-01 validation
const ChallengePrefix = "_acme-challenge"

// ToFQDN normalizes a name relative to the zone into a fully qualified name
// without a trailing dot. "@" or "" mean the zone apex; a name already ending
// in the zone is returned as-is.
func ToFQDN(zone, name string) string {
	zone = strings.TrimSuffix(strings.TrimSpace(zone), ".")
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")

	if name == "" || name == "@" || name == zone {
		return zone
	}
	if strings.HasSuffix(name, "."+zone) {
		return name
	}
	return name + "." + zone
}

// InZone reports whether hostname is a name strictly under the zone apex
func InZone(zone, hostname string) bool {
	zone = strings.TrimSuffix(strings.TrimSpace(zone), ".")
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	return hostname != zone && strings.HasSuffix(hostname, "."+zone)
}

// ChallengeFQDN returns the TXT record name validating control of hostname
func ChallengeFQDN(hostname string) string {
	return ChallengePrefix + "." + strings.TrimSuffix(strings.TrimSpace(hostname), ".")
}
