package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS is queried when the system resolver cannot resolve the relay's
// host, which happens on some captive and misconfigured networks.
var publicDNS = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
	"[2606:4700:4700::1111]",
	"[2001:4860:4860::8888]",
}

type lookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver dials by host name, falling back to a race across public DNS
// servers when the local lookup fails.
type Resolver struct {
	// Fallback lists DNS servers raced after a local failure. Nil uses the
	// built-in public list; an empty slice disables the fallback.
	Fallback []string

	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	local  lookupFunc
	remote func(ctx context.Context, host, server string) ([]string, error)
}

func (r *Resolver) localLookup(ctx context.Context, host string) ([]string, error) {
	if r.local != nil {
		return r.local(ctx, host)
	}
	return net.DefaultResolver.LookupHost(ctx, host)
}

func (r *Resolver) remoteLookup(ctx context.Context, host, server string) ([]string, error) {
	if r.remote != nil {
		return r.remote(ctx, host, server)
	}
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return res.LookupHost(ctx, host)
}

// Lookup resolves host to one address, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, orDefault(r.LocalTimeout, time.Second))
	ips, err := r.localLookup(localCtx, host)
	cancel()
	if err == nil && len(ips) > 0 {
		return pickIP(ips), nil
	}

	servers := r.Fallback
	if servers == nil {
		servers = publicDNS
	}
	if len(servers) == 0 {
		if err == nil {
			err = errors.New("no addresses found")
		}
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	return r.race(ctx, host, servers)
}

// race asks every server at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string, servers []string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(r.RemoteTimeout, 2*time.Second))
	defer cancel()

	results := make(chan result, len(servers))
	for _, server := range servers {
		go func(server string) {
			ips, err := r.remoteLookup(ctx, host, server)
			if err == nil && len(ips) == 0 {
				err = errors.New("no addresses returned")
			}
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{ip: pickIP(ips)}
		}(server)
	}

	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, len(servers))
}

// DialContext resolves addr's host with Lookup and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func pickIP(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
