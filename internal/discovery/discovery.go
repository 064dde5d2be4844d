// Package discovery finds FlowScore brokers advertised over mDNS/DNS-SD.
package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/transport"
	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_flowscore._tcp"
	Domain      = "local."
	pathKey     = "path"

	DefaultTimeout = 3 * time.Second
)

var (
	ErrNoBrokers        = errors.New("discovery: no brokers found")
	ErrInvalidSelection = errors.New("discovery: invalid selection")
)

// Broker is one advertised endpoint.
type Broker = transport.Endpoint

// Browser streams service entries until ctx is done. *zeroconf.Resolver
// satisfies it.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// NewBrowser returns a resolver bound to all multicast interfaces.
func NewBrowser() (Browser, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: new resolver: %w", err)
	}
	return r, nil
}

// Discover browses for timeout and returns brokers in arrival order,
// deduplicated by instance name.
func Discover(ctx context.Context, b Browser, timeout time.Duration) ([]Broker, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := b.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse %s: %w", ServiceType, err)
	}

	seen := make(map[string]struct{})
	out := make([]Broker, 0)
	for {
		select {
		case <-ctx.Done():
			return out, nil
		case e, ok := <-entries:
			if !ok {
				return out, nil
			}
			broker, ok := FromEntry(e)
			if !ok {
				continue
			}
			if _, dup := seen[broker.Name]; dup {
				continue
			}
			seen[broker.Name] = struct{}{}
			logging.Debugf("discovery.Discover found name=%q url=%s", broker.Name, transport.URL(broker, ""))
			out = append(out, broker)
		}
	}
}

// FromEntry converts a resolved entry. Entries without an address are
// skipped; IPv4 is preferred.
func FromEntry(e *zeroconf.ServiceEntry) (Broker, bool) {
	if e == nil || e.Port <= 0 {
		return Broker{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		return Broker{}, false
	}
	return Broker{
		Name: e.Instance,
		Host: host,
		Port: e.Port,
		Path: txtValue(e.Text, pathKey, transport.DefaultPath),
	}, true
}

func txtValue(txt []string, key, fallback string) string {
	prefix := key + "="
	for _, kv := range txt {
		if v, ok := strings.CutPrefix(kv, prefix); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return fallback
}

// Choose lists brokers on out and reads a 1-based index from in. An empty
// answer picks the first broker.
func Choose(in io.Reader, out io.Writer, brokers []Broker) (Broker, error) {
	if len(brokers) == 0 {
		return Broker{}, ErrNoBrokers
	}
	fmt.Fprintln(out, "Discovered FlowScore brokers:")
	for i, b := range brokers {
		fmt.Fprintf(out, "  %d) %s -> %s\n", i+1, b.Name, transport.URL(b, ""))
	}
	fmt.Fprint(out, "Select broker [1]: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Broker{}, err
	}
	choice := strings.TrimSpace(line)
	if choice == "" {
		return brokers[0], nil
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(brokers) {
		return Broker{}, fmt.Errorf("%w: %q", ErrInvalidSelection, choice)
	}
	return brokers[idx-1], nil
}
