package connectivity

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/virtuallab/labsync/internal/logging"
)

// Prober periodically checks reachability and reports it to a Monitor.
//
// The device counts as reachable when it has an up, non-loopback network
// interface and the probe URL answers with a status below 500 within the
// timeout. Having an interface alone is not enough.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
	hasLink  func() bool
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithHTTPClient sets the client used for probe requests.
func WithHTTPClient(c *http.Client) ProberOption { return func(p *Prober) { p.client = c } }

// WithLinkCheck replaces the network interface check.
func WithLinkCheck(fn func() bool) ProberOption { return func(p *Prober) { p.hasLink = fn } }

// NewProber creates a prober for url. An empty url limits the check to the
// network interfaces.
func NewProber(m *Monitor, url string, interval, timeout time.Duration, logger *logging.Logger, opts ...ProberOption) *Prober {
	if logger == nil {
		logger = logging.Get()
	}
	p := &Prober{
		monitor:  m,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		hasLink:  HasNetworkInterface,
		logger:   logger.With(map[string]interface{}{"component": "prober"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasNetworkInterface reports whether any non-loopback interface is up.
func HasNetworkInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

// Probe performs one check without touching the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	if !p.hasLink() {
		return false
	}
	if p.url == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("Invalid probe URL", map[string]interface{}{"url": p.url, "error": err.Error()})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Check probes once and reports the result to the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.Probe(ctx)
	p.monitor.Set(online)
	return online
}

// Start begins probing in the background: once immediately, then every
// interval until Stop is called or ctx ends.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.Check(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}
