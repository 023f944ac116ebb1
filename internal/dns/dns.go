package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicDNS are servers to be queried if a local lookup fails
var PublicDNS = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"208.67.222.222",       // Cisco OpenDNS
	"208.67.220.220",       // Cisco OpenDNS
}

var ErrNoAddress = errors.New("no IP addresses found")

// Resolver resolves the signaling server host, falling back to racing
// public DNS servers when the system resolver fails. Captive networks and
// broken VPN resolvers are the usual reason the fallback is needed.
type Resolver struct {
	// Fallback servers raced after the system resolver fails. Nil disables the fallback.
	Fallback []string

	LocalTimeout    time.Duration
	FallbackTimeout time.Duration

	dialer net.Dialer
}

// NewResolver returns a resolver with the public fallback list.
func NewResolver() *Resolver {
	return &Resolver{
		Fallback:        PublicDNS,
		LocalTimeout:    time.Second,
		FallbackTimeout: 2 * time.Second,
	}
}

// Lookup resolves a hostname to an IP address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := r.localLookup(ctx, host)
	if err == nil {
		return ip, nil
	}
	if len(r.Fallback) == 0 {
		return "", err
	}
	return r.raceFallback(ctx, host)
}

// DialContext resolves addr through Lookup and dials the result. It has the
// signature expected by websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	return r.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) localLookup(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	defer cancel()

	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func (r *Resolver) raceFallback(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.FallbackTimeout)
	defer cancel()

	results := make(chan result, len(r.Fallback))
	for _, server := range r.Fallback {
		go func(server string) {
			ip, err := lookupVia(ctx, host, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range r.Fallback {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: fallback race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all %d fallback servers failed", host, len(r.Fallback))
}

// lookupVia queries one DNS server directly on port 53.
func lookupVia(ctx context.Context, host, server string) (string, error) {
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}

	ips, err := res.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
