package cache

import (
	"net"
	"sort"
	"strings"
	"sync"
)

// HostMatcher reports whether a host is excluded from caching.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Runtime changes: results may change between calls.
type HostMatcher interface {
	Excluded(host string) bool
}

// ExclusionList is a mutable set of excluded hosts. Hosts are compared
// case-insensitively and without port.
type ExclusionList struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewExclusionList creates a list holding hosts.
func NewExclusionList(hosts ...string) *ExclusionList {
	l := &ExclusionList{hosts: make(map[string]struct{})}
	for _, h := range hosts {
		l.Add(h)
	}
	return l
}

// Add excludes host. It reports false when host is empty or already listed.
func (l *ExclusionList) Add(host string) bool {
	h := canonicalHost(host)
	if h == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.hosts[h]; ok {
		return false
	}
	l.hosts[h] = struct{}{}
	return true
}

// Remove re-enables caching for host. It reports whether host was listed.
func (l *ExclusionList) Remove(host string) bool {
	h := canonicalHost(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.hosts[h]; !ok {
		return false
	}
	delete(l.hosts, h)
	return true
}

// Hosts returns the excluded hosts in sorted order.
func (l *ExclusionList) Hosts() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.hosts))
	for h := range l.hosts {
		out = append(out, h)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Excluded reports whether host is listed.
func (l *ExclusionList) Excluded(host string) bool {
	h := canonicalHost(host)
	if h == "" {
		return false
	}
	l.mu.RLock()
	_, ok := l.hosts[h]
	l.mu.RUnlock()
	return ok
}

func canonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}

var _ HostMatcher = (*ExclusionList)(nil)
