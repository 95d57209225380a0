// Package netblock cuts the device off from its cloud sync backends while
// anything is hidden, so hidden documents are not restored by a sync.
package netblock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/atomicfile"
	"github.com/agentic-research/booklocker/internal/command"
	"github.com/agentic-research/booklocker/internal/logging"
	"github.com/agentic-research/booklocker/internal/retry"
)

// ErrNoEffect is returned when the routing table does not reflect a route
// change after every attempt.
var ErrNoEffect = errors.New("route change had no effect")

// Blocker blocks and unblocks cloud sync.
type Blocker interface {
	Block(ctx context.Context) error
	Unblock(ctx context.Context) error
}

// None never touches the network.
type None struct{}

func (None) Block(context.Context) error   { return nil }
func (None) Unblock(context.Context) error { return nil }

// RouteConfig configures the Route blocker.
type RouteConfig struct {
	Hosts          []string
	CacheFile      string
	ResolveTimeout time.Duration
}

// Lookup resolves host to IPv4 addresses.
type Lookup func(ctx context.Context, host string) ([]netip.Addr, error)

func systemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
}

const (
	defaultRetryWait    = 200 * time.Millisecond
	defaultRouteRetries = 5
)

// Route installs reject routes for the sync hosts with the route tool.
type Route struct {
	cfg      RouteConfig
	run      command.Runner
	lookup   Lookup
	logger   *zap.Logger
	now      func() time.Time
	wait     time.Duration
	attempts int
}

// Option configures a Route blocker.
type Option func(*Route)

// WithRunner replaces the command runner.
func WithRunner(r command.Runner) Option { return func(b *Route) { b.run = r } }

// WithLookup replaces the DNS lookup.
func WithLookup(l Lookup) Option { return func(b *Route) { b.lookup = l } }

// WithClock replaces time.Now for cache timestamps.
func WithClock(now func() time.Time) Option { return func(b *Route) { b.now = now } }

// WithRetryWait sets the pause between resolve and route attempts.
func WithRetryWait(d time.Duration) Option { return func(b *Route) { b.wait = d } }

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *zap.Logger) Option {
	return func(b *Route) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewRoute returns a route-table blocker for cfg.
func NewRoute(cfg RouteConfig, opts ...Option) *Route {
	b := &Route{
		cfg:      cfg,
		run:      command.Exec,
		lookup:   systemLookup,
		logger:   logging.L(),
		now:      time.Now,
		wait:     defaultRetryWait,
		attempts: defaultRouteRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.ResolveTimeout <= 0 {
		b.cfg.ResolveTimeout = 30 * time.Second
	}
	return b
}

// Block resolves the sync hosts, refreshes the route cache and adds a reject
// route for every cached address not already in the table.
func (b *Route) Block(ctx context.Context) error {
	b.logger.Info("blocking sync", zap.Int("hosts", len(b.cfg.Hosts)))

	fs, name, err := b.cacheFS()
	if err != nil {
		return err
	}
	cache, err := LoadCache(fs, name)
	if err != nil {
		return err
	}
	if err := cache.Update(b.resolve(ctx), b.now()); err != nil {
		return err
	}
	if err := cache.Save(fs, name); err != nil {
		return fmt.Errorf("save route cache: %w", err)
	}

	table, err := b.table(ctx)
	if err != nil {
		return err
	}
	added := 0
	for _, ip := range cache.IPs() {
		if table[ip] {
			continue
		}
		if err := b.change(ctx, "add", ip, true); err != nil {
			return err
		}
		added++
	}
	b.logger.Debug("sync blocked", zap.Int("added", added), zap.Int("cached", len(cache.Entries)))
	return nil
}

// Unblock removes the reject route of every cached address still in the
// table.
func (b *Route) Unblock(ctx context.Context) error {
	b.logger.Info("unblocking sync")

	fs, name, err := b.cacheFS()
	if err != nil {
		return err
	}
	cache, err := LoadCache(fs, name)
	if err != nil {
		return err
	}
	if len(cache.Entries) == 0 {
		return nil
	}

	table, err := b.table(ctx)
	if err != nil {
		return err
	}
	for _, ip := range cache.IPs() {
		if !table[ip] {
			continue
		}
		if err := b.change(ctx, "delete", ip, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Route) cacheFS() (billy.Filesystem, string, error) {
	fs, err := atomicfile.Dir(filepath.Dir(b.cfg.CacheFile))
	if err != nil {
		return nil, "", fmt.Errorf("open route cache dir: %w", err)
	}
	return fs, filepath.Base(b.cfg.CacheFile), nil
}

// resolve looks up every host, retrying while lookups fail for lack of
// connectivity. Wi-Fi may still be coming up after a resume. It returns
// nil when the timeout passes first.
func (b *Route) resolve(ctx context.Context) []netip.Addr {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ResolveTimeout)
	defer cancel()

	addrs, err := retry.DoWithResult(ctx, retry.Fixed(0, b.wait), func() ([]netip.Addr, error) {
		addrs, offline := b.lookupAll(ctx)
		if offline > 0 {
			b.logger.Debug("could not resolve sync hosts, retrying", zap.Int("offline", offline))
			return nil, retry.Retryable(fmt.Errorf("%d lookups failed without connectivity", offline))
		}
		return addrs, nil
	})
	if err != nil {
		b.logger.Warn("could not resolve sync hosts in time",
			zap.Duration("timeout", b.cfg.ResolveTimeout), zap.Error(err))
		return nil
	}
	return addrs
}

func (b *Route) lookupAll(ctx context.Context) (addrs []netip.Addr, offline int) {
	seen := make(map[netip.Addr]bool)
	for _, host := range b.cfg.Hosts {
		found, err := b.lookup(ctx, host)
		if err != nil {
			if isOffline(err) {
				offline++
			} else {
				b.logger.Debug("sync host does not resolve", zap.String("host", host), zap.Error(err))
			}
			continue
		}
		for _, ip := range found {
			ip = ip.Unmap()
			if !ip.Is4() || seen[ip] {
				continue
			}
			seen[ip] = true
			addrs = append(addrs, ip)
		}
	}
	return addrs, offline
}

// isOffline reports lookup failures caused by missing connectivity rather
// than by the name not existing.
func isOffline(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}
	return true
}

// change runs `route <verb> -host ip reject` until the table agrees. Right
// after a resume the route tool sometimes reports success without effect.
func (b *Route) change(ctx context.Context, verb string, ip netip.Addr, present bool) error {
	err := retry.Do(ctx, retry.Fixed(b.attempts, b.wait), func() error {
		if _, err := b.run(ctx, "route", verb, "-host", ip.String(), "reject"); err != nil {
			return fmt.Errorf("route %s %s: %w", verb, ip, err)
		}
		table, err := b.table(ctx)
		if err != nil {
			return fmt.Errorf("verify route %s %s: %w", verb, ip, err)
		}
		if table[ip] != present {
			return retry.Retryable(ErrNoEffect)
		}
		return nil
	})
	if errors.Is(err, ErrNoEffect) {
		return fmt.Errorf("route %s %s: %w", verb, ip, ErrNoEffect)
	}
	return err
}

func (b *Route) table(ctx context.Context) (map[netip.Addr]bool, error) {
	out, err := b.run(ctx, "route", "-n")
	if err != nil {
		return nil, fmt.Errorf("read routing table: %w", err)
	}
	return ParseTable(string(out))
}

// ParseTable extracts the destination column of `route -n` output, skipping
// the two header lines.
func ParseTable(out string) (map[netip.Addr]bool, error) {
	dests := make(map[netip.Addr]bool)
	for i, line := range strings.Split(out, "\n") {
		if i < 2 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse routing table entry %q: %w", fields[0], err)
		}
		dests[ip] = true
	}
	return dests, nil
}
