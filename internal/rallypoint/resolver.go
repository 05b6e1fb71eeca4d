package rallypoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoServers is returned when not a single configured server could be
// resolved to an address. Startup cannot proceed without relay capacity.
var ErrNoServers = errors.New("no rally-point servers could be resolved")

// Endpoint is a configured rally-point server before resolution.
type Endpoint struct {
	Host string
	Port int
}

// lookupFunc matches net.Resolver.LookupIP and is swappable in tests.
type lookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// ParseEndpoint parses a configured "host:port" entry.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid rally-point server %q: %w", s, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid rally-point server port in %q", s)
	}

	return Endpoint{Host: host, Port: port}, nil
}

// Resolve performs IPv4 and IPv6 resolution for every configured endpoint
// concurrently and returns the usable descriptors in configuration order.
// Endpoints with no resolvable address are logged and excluded; the call
// fails only when the resulting set is empty, so a partially resolvable
// configuration still starts the process with reduced relay capacity.
func Resolve(ctx context.Context, endpoints []Endpoint) ([]Server, error) {
	return resolveWith(ctx, endpoints, net.DefaultResolver.LookupIP)
}

func resolveWith(ctx context.Context, endpoints []Endpoint, lookup lookupFunc) ([]Server, error) {
	results := make([]*Server, len(endpoints))

	g, ctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			srv, err := resolveOne(ctx, ep, lookup)
			if err != nil {
				log.Warn().Err(err).
					Str("host", ep.Host).
					Int("port", ep.Port).
					Msg("Rally-point server excluded, no address resolved")
				return nil
			}
			results[i] = srv
			return nil
		})
	}
	_ = g.Wait()

	var servers []Server
	for _, srv := range results {
		if srv != nil {
			servers = append(servers, *srv)
		}
	}

	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	return servers, nil
}

// resolveOne looks up both address families for a single endpoint. An IPv6
// result that is really an IPv4-mapped address is folded into the IPv4 slot
// so the same host is never presented as two differently-typed addresses.
func resolveOne(ctx context.Context, ep Endpoint, lookup lookupFunc) (*Server, error) {
	srv := Server{Port: ep.Port}

	ip4s, err4 := lookup(ctx, "ip4", ep.Host)
	if err4 == nil && len(ip4s) > 0 {
		srv.Address4 = ip4s[0].String()
	}

	ip6s, err6 := lookup(ctx, "ip6", ep.Host)
	if err6 == nil && len(ip6s) > 0 {
		if v4 := ip6s[0].To4(); v4 != nil {
			if srv.Address4 == "" {
				srv.Address4 = v4.String()
			}
		} else {
			srv.Address6 = ip6s[0].String()
		}
	}

	if srv.Address4 == "" && srv.Address6 == "" {
		if err4 != nil {
			return nil, err4
		}
		if err6 != nil {
			return nil, err6
		}
		return nil, fmt.Errorf("no addresses for host %q", ep.Host)
	}

	return &srv, nil
}
