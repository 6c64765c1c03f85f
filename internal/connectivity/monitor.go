// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package connectivity tracks whether the device can reach the remote
// backend and over what kind of link.
//
// The monitor probes periodically and notifies listeners only on
// online/offline transitions, never on every probe, so downstream sync
// triggers fire once per state change. Wifi, ethernet and "other" links are
// considered reliable; cellular is reliable only when the user preference
// allows cellular sync. The monitor keeps no persistent state.
package connectivity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/offcourse/offcourse/internal/events"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/metrics"
)

// ConnectionType classifies the active network link.
type ConnectionType string

const (
	TypeWifi     ConnectionType = "wifi"
	TypeEthernet ConnectionType = "ethernet"
	TypeCellular ConnectionType = "cellular"
	TypeOther    ConnectionType = "other"
	TypeNone     ConnectionType = "none"
)

// Status is the monitor's view of connectivity.
type Status struct {
	Online bool
	Type   ConnectionType
}

// Reliable reports whether this connection should carry background sync.
// Cellular counts only when the user allows cellular sync.
func (s Status) Reliable(allowCellular bool) bool {
	if !s.Online {
		return false
	}
	switch s.Type {
	case TypeWifi, TypeEthernet, TypeOther:
		return true
	case TypeCellular:
		return allowCellular
	default:
		return false
	}
}

// Prober determines the current connectivity status. Pluggable so tests and
// platform ports can substitute their own detection.
type Prober interface {
	Probe(ctx context.Context) Status
}

// HTTPProber probes by issuing a HEAD request against the remote base URL
// and classifying the link from the local network interfaces. Any HTTP
// response, including an error status, proves reachability.
type HTTPProber struct {
	URL     string
	Client  *http.Client
	Classify func() ConnectionType
}

// NewHTTPProber builds the default prober.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		URL:      url,
		Client:   &http.Client{Timeout: timeout},
		Classify: classifyInterfaces,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, http.NoBody)
	if err != nil {
		return Status{Online: false, Type: TypeNone}
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return Status{Online: false, Type: TypeNone}
	}
	_ = resp.Body.Close()
	return Status{Online: true, Type: p.Classify()}
}

// classifyInterfaces inspects the up, non-loopback network interfaces and
// maps well-known name prefixes to a connection class.
func classifyInterfaces() ConnectionType {
	ifaces, err := net.Interfaces()
	if err != nil {
		return TypeOther
	}

	best := TypeNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		switch t := classifyName(iface.Name); t {
		case TypeEthernet:
			return TypeEthernet // wired beats everything
		case TypeWifi:
			best = TypeWifi
		case TypeCellular:
			if best == TypeNone || best == TypeOther {
				best = TypeCellular
			}
		case TypeOther:
			if best == TypeNone {
				best = TypeOther
			}
		}
	}
	if best == TypeNone {
		// The probe succeeded, so something is carrying traffic.
		return TypeOther
	}
	return best
}

func classifyName(name string) ConnectionType {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "wifi"):
		return TypeWifi
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return TypeEthernet
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "pdp_ip"):
		return TypeCellular
	default:
		return TypeOther
	}
}

// Monitor observes connectivity and fans transitions out to listeners and
// the event bus. Implements suture.Service via Serve.
type Monitor struct {
	prober   Prober
	interval time.Duration
	bus      *events.Bus

	mu        sync.RWMutex
	status    Status
	probed    bool
	listeners map[int]func(Status)
	nextID    int
}

// NewMonitor creates a monitor. bus may be nil.
func NewMonitor(prober Prober, interval time.Duration, bus *events.Bus) *Monitor {
	return &Monitor{
		prober:    prober,
		interval:  interval,
		bus:       bus,
		status:    Status{Online: false, Type: TypeNone},
		listeners: make(map[int]func(Status)),
	}
}

// Status returns the last observed connectivity status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// AddListener registers a callback fired on every online/offline transition
// and returns an unsubscribe function. Callbacks run on the monitor's
// goroutine; they must not block.
func (m *Monitor) AddListener(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Serve runs the probe loop until the context is canceled. It probes once
// immediately so the engine starts with a real status.
func (m *Monitor) Serve(ctx context.Context) error {
	m.ProbeNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ProbeNow(ctx)
		}
	}
}

// ProbeNow performs a single probe and processes any transition. Exposed so
// a sync trigger can force a fresh reading before deciding to skip.
func (m *Monitor) ProbeNow(ctx context.Context) Status {
	next := m.prober.Probe(ctx)

	m.mu.Lock()
	prev := m.status
	first := !m.probed
	m.status = next
	m.probed = true

	transitioned := !first && prev.Online != next.Online
	var fns []func(Status)
	if transitioned || (first && next.Online) {
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if next.Online {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}

	if len(fns) > 0 {
		metrics.ConnectivityTransitions.Inc()
		logging.Info().
			Bool("online", next.Online).
			Str("type", string(next.Type)).
			Msg("connectivity transition")

		for _, fn := range fns {
			fn(next)
		}
		if m.bus != nil {
			m.bus.Publish(events.TopicConnectivityChanged, events.ConnectivityChanged{
				Online:         next.Online,
				ConnectionType: string(next.Type),
				At:             time.Now().UTC(),
			})
		}
	}

	return next
}
