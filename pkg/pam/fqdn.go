package pam

import (
	"net"
	"os"
	"strings"
	"sync"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
)

// FQDNCache resolves the local host's fully qualified domain name
// once and memoizes the result for the lifetime of the owning
// service. Resolution is lazy; concurrent first callers are
// serialized by the once so every caller observes the same value.
type FQDNCache struct {
	once sync.Once
	fqdn string
	ok   bool
}

// NewFQDNCache returns an empty cache; the first Lookup resolves.
func NewFQDNCache() *FQDNCache {
	return &FQDNCache{}
}

// Lookup returns the cached FQDN. ok is false only when even the
// local hostname could not be read; callers then proceed without an
// fqdn template variable.
func (c *FQDNCache) Lookup() (fqdn string, ok bool) {
	c.once.Do(func() {
		c.fqdn, c.ok = resolveFQDN()
	})
	return c.fqdn, c.ok
}

// resolveFQDN reads the local hostname and picks the best qualified
// candidate from name resolution. Preference order: a resolved name
// that extends the bare hostname with a dot and at least one more
// character, then any resolved name containing a dot, then the bare
// hostname itself.
func resolveFQDN() (string, bool) {
	hostname, err := os.Hostname()
	if err != nil {
		logger.Error("cannot read local hostname", logger.Err(err))
		return "", false
	}
	candidates := lookupNames(hostname)
	if len(candidates) == 0 {
		return hostname, true
	}
	for _, name := range candidates {
		if extendsHostname(hostname, name) {
			return name, true
		}
	}
	for _, name := range candidates {
		if strings.Contains(name, ".") {
			return name, true
		}
	}
	return hostname, true
}

// lookupNames gathers qualified names for the host: the canonical
// name first, then any reverse names of its addresses.
func lookupNames(hostname string) []string {
	var names []string
	if cname, err := net.LookupCNAME(hostname); err == nil {
		if trimmed := strings.TrimSuffix(cname, "."); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil {
		if len(names) == 0 {
			logger.Debug("hostname does not resolve", "hostname", hostname, logger.Err(err))
		}
		return names
	}
	for _, addr := range addrs {
		ptrs, err := net.LookupAddr(addr)
		if err != nil {
			continue
		}
		for _, ptr := range ptrs {
			if trimmed := strings.TrimSuffix(ptr, "."); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	}
	return names
}

func extendsHostname(hostname, candidate string) bool {
	if len(candidate) <= len(hostname)+1 {
		return false
	}
	return strings.EqualFold(candidate[:len(hostname)], hostname) &&
		candidate[len(hostname)] == '.'
}
