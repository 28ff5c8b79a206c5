package dnscheck

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/saiset-co/sai-backend/types"
)

type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// SystemResolver asks the operating system, the same path the failed
// connection took.
type SystemResolver struct {
	resolver *net.Resolver
}

func NewSystemResolver() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

func (r *SystemResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.resolver.LookupHost(ctx, host)
}

// BootstrapResolver queries fixed DNS servers directly, bypassing the
// system configuration.
type BootstrapResolver struct {
	servers []string
	client  *dns.Client
}

func NewBootstrapResolver(servers []string, timeout time.Duration) (*BootstrapResolver, error) {
	if len(servers) == 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "bootstrap resolver needs at least one server")
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &BootstrapResolver{
		servers: normalized,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

func (r *BootstrapResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	var lastErr error
	for _, server := range r.servers {
		addrs, err := r.query(ctx, server, host)
		if err == nil && len(addrs) > 0 {
			return addrs, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}

	return nil, lastErr
}

func (r *BootstrapResolver) query(ctx context.Context, server, host string) ([]string, error) {
	var addrs []string
	var lastErr error

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}

		for _, answer := range in.Answer {
			switch rr := answer.(type) {
			case *dns.A:
				addrs = append(addrs, rr.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rr.AAAA.String())
			}
		}
	}

	if len(addrs) == 0 {
		return nil, lastErr
	}

	return addrs, nil
}
