// Package metrics exposes Prometheus counters and gauges for the
// SessionClient and CacheMap, as a pure observability side channel -
// nothing in this module ever reads a metric back to make a protocol or
// cache decision.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Session holds the counters for one SessionClient instance.
type Session struct {
	RequestsSent    prometheus.Counter
	RequestsRetried prometheus.Counter
	RepliesAccepted prometheus.Counter
	RepliesDropped  prometheus.Counter
	Evictions       prometheus.Counter
	MessagesInUse   prometheus.Gauge
}

// NewSession registers and returns a fresh Session metric set labeled by
// clientID (typically the session's hex-encoded client_id). reg may be nil,
// in which case the default registerer is used.
func NewSession(reg prometheus.Registerer, clientID string) *Session {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"client_id": clientID}
	s := &Session{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "requests_sent_total",
			Help:        "Requests sent for the first time on the wire.",
			ConstLabels: labels,
		}),
		RequestsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "requests_retried_total",
			Help:        "Requests retransmitted after a request_timeout.",
			ConstLabels: labels,
		}),
		RepliesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "replies_accepted_total",
			Help:        "Replies that matched the inflight request and were delivered.",
			ConstLabels: labels,
		}),
		RepliesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "replies_dropped_total",
			Help:        "Replies discarded as protocol violations or misdirected.",
			ConstLabels: labels,
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "evictions_total",
			Help:        "Eviction messages received for this client.",
			ConstLabels: labels,
		}),
		MessagesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "anchor",
			Subsystem:   "session",
			Name:        "messages_in_use",
			Help:        "Messages currently acquired from the client's MessagePool.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(s.RequestsSent, s.RequestsRetried, s.RepliesAccepted,
		s.RepliesDropped, s.Evictions, s.MessagesInUse)
	return s
}

// Cache holds the counters for one CacheMap instance.
type Cache struct {
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	Evictions       prometheus.Counter
	ScopesCommitted prometheus.Counter
	ScopesDiscarded prometheus.Counter
	Compactions     prometheus.Counter
}

// NewCache registers and returns a fresh Cache metric set labeled by name
// (typically the owning engine's table name). reg may be nil, in which
// case the default registerer is used.
func NewCache(reg prometheus.Registerer, name string) *Cache {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"table": name}
	c := &Cache{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "CacheMap lookups satisfied by the cache or either stash generation.",
			ConstLabels: labels,
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "CacheMap lookups that found no entry.",
			ConstLabels: labels,
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Set-associative cache evictions, of either case (update or capacity).",
			ConstLabels: labels,
		}),
		ScopesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "scopes_committed_total",
			Help:        "Scopes closed with mode persist.",
			ConstLabels: labels,
		}),
		ScopesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "scopes_discarded_total",
			Help:        "Scopes closed with mode discard.",
			ConstLabels: labels,
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "anchor",
			Subsystem:   "cache",
			Name:        "compactions_total",
			Help:        "Compact calls (gen2 cleared, gen1 promoted).",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(c.Hits, c.Misses, c.Evictions, c.ScopesCommitted,
		c.ScopesDiscarded, c.Compactions)
	return c
}
