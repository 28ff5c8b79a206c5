package dnscheck

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

var defaultBadAddresses = []string{"0.0.0.0", "127.0.0.1"}

// Checker tells a sinkholed backend host apart from a generally broken
// network.
type Checker struct {
	resolver Resolver
	logger   types.Logger
	timeout  time.Duration
	bad      map[string]struct{}
}

func NewChecker(config *types.ResolverConfig, logger types.Logger) (*Checker, error) {
	if config == nil {
		config = &types.ResolverConfig{}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var resolver Resolver
	switch config.Type {
	case "", "system":
		resolver = NewSystemResolver()
	case "bootstrap":
		r, err := NewBootstrapResolver(config.Bootstrap, timeout)
		if err != nil {
			return nil, err
		}
		resolver = r
	default:
		return nil, types.Errorf(types.ErrInvalidParameter, "resolver type: %s", config.Type)
	}

	return NewCheckerWithResolver(resolver, logger, timeout, config.BadAddress...), nil
}

func NewCheckerWithResolver(resolver Resolver, logger types.Logger, timeout time.Duration, extraBad ...string) *Checker {
	bad := make(map[string]struct{}, len(defaultBadAddresses)+len(extraBad))
	for _, addr := range append(append([]string{}, defaultBadAddresses...), extraBad...) {
		if ip := net.ParseIP(addr); ip != nil {
			bad[ip.String()] = struct{}{}
		}
	}

	return &Checker{
		resolver: resolver,
		logger:   logger,
		timeout:  timeout,
		bad:      bad,
	}
}

func (c *Checker) IsBlockedAddress(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	_, ok := c.bad[ip.String()]
	return ok
}

// Check returns a DNS-blocked error when err is a connection failure and the
// host of rawURL resolves to a known sinkhole address. Any other error is
// returned unchanged.
func (c *Checker) Check(ctx context.Context, err error, rawURL string) error {
	if !IsConnectionError(err) {
		return err
	}

	host := utils.HostOf(rawURL)
	if host == "" {
		return err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addrs, lookupErr := c.resolver.LookupHost(lookupCtx, host)
	if lookupErr != nil {
		c.logger.Debug("DNS integrity lookup failed", zap.String("host", host), zap.Error(lookupErr))
		return err
	}

	for _, addr := range addrs {
		if c.IsBlockedAddress(addr) {
			c.logger.Error("Backend host resolves to a blocked address",
				zap.String("url", rawURL),
				zap.String("host", host),
				zap.String("address", addr))
			return types.NewDNSBlockedError(rawURL, addr, err)
		}
	}

	return err
}

// IsConnectionError matches the narrow set of errors meaning the host could
// not be reached at all. HTTP statuses, decoding errors and cancellation are
// never connection errors.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		var dnsErr *net.DNSError
		return !errors.As(opErr.Err, &dnsErr)
	}

	return false
}
