package proxy

import (
	"github.com/puzpuzpuz/xsync/v3"

	"streamvault/work/logger"
)

// NoRefererHostSet remembers hosts that reject requests carrying a
// Referer header. The first 403 pays the retry cost; every later request
// to the same host skips the Referer up front. The set is append-only
// and race-tolerant: double observation of the same host is harmless.
type NoRefererHostSet struct {
	hosts     *xsync.MapOf[string, struct{}]
	onObserve func(host string)
}

// NewNoRefererHostSet creates an empty set. onObserve runs once per
// newly observed host, outside any lock; pass nil when observations need
// no persistence.
func NewNoRefererHostSet(onObserve func(host string)) *NoRefererHostSet {
	return &NoRefererHostSet{
		hosts:     xsync.NewMapOf[string, struct{}](),
		onObserve: onObserve,
	}
}

// Has reports whether host is known to reject the Referer header.
func (s *NoRefererHostSet) Has(host string) bool {
	_, ok := s.hosts.Load(host)
	return ok
}

// Observe records that host rejected a Referer and accepted the retry
// without one.
func (s *NoRefererHostSet) Observe(host string) {
	if _, loaded := s.hosts.LoadOrStore(host, struct{}{}); loaded {
		return
	}
	logger.Info("{proxy/norefer.go - Observe} host %s rejects Referer, remembered", host)
	if s.onObserve != nil {
		s.onObserve(host)
	}
}

// Preload seeds the set, typically from persisted observations at start.
func (s *NoRefererHostSet) Preload(hosts []string) {
	for _, h := range hosts {
		s.hosts.Store(h, struct{}{})
	}
}
