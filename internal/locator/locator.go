// Package locator finds the rangefinder among nearby BLE devices.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/glm"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultScanTimeout is the discovery window used when Options.Timeout is zero.
const DefaultScanTimeout = 12 * time.Second

// Seen is one (name, address) pair observed during a scan.
type Seen struct {
	Name    string
	Address string
}

// NotFoundError is returned when no discovered device matched. Seen lists every
// device observed, in discovery order.
type NotFoundError struct {
	Seen []Seen
}

func (e *NotFoundError) Error() string {
	if len(e.Seen) == 0 {
		return "rangefinder not found: no devices seen"
	}
	parts := make([]string, 0, len(e.Seen))
	for _, s := range e.Seen {
		parts = append(parts, fmt.Sprintf("(%q, %s)", s.Name, s.Address))
	}
	return fmt.Sprintf("rangefinder not found; devices seen: %s", strings.Join(parts, ", "))
}

type observation struct {
	name        string
	connectable bool
}

// Options configures matching.
type Options struct {
	Timeout       time.Duration
	NameHints     []string // case-insensitive substrings of the advertised name
	AddressPrefix string   // fallback when the platform hides names
}

// DefaultOptions returns the vendor defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultScanTimeout,
		NameHints:     glm.DefaultNameHints,
		AddressPrefix: glm.DefaultAddressPrefix,
	}
}

// Locator runs one discovery per Locate call.
type Locator struct {
	scanner device.Scanner
	opts    Options
	logger  *logrus.Logger
}

// New creates a Locator over scanner.
func New(scanner device.Scanner, opts Options, logger *logrus.Logger) *Locator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	return &Locator{scanner: scanner, opts: opts, logger: logger}
}

// Locate scans for up to the configured timeout and returns the best match.
//
// A name-hint match wins over an address-prefix match, so the scan ends early only
// when a name matches. Otherwise the whole window is observed before the address
// fallback is applied. Devices that never advertised as connectable are listed in
// NotFoundError but never selected.
func (l *Locator) Locate(ctx context.Context) (device.Descriptor, error) {
	scanCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	var mu sync.Mutex
	seen := orderedmap.New[string, observation]() // address -> latest non-empty name

	handler := func(adv device.Advertisement) {
		addr := adv.Addr()
		if addr == "" {
			return
		}
		name := strings.TrimSpace(adv.LocalName())

		mu.Lock()
		prev, existing := seen.Get(addr)
		if name == "" {
			name = prev.name
		}
		obs := observation{name: name, connectable: prev.connectable || adv.Connectable()}
		if !existing || obs != prev {
			seen.Set(addr, obs)
			if !existing {
				l.logger.WithFields(logrus.Fields{
					"device":      name,
					"address":     addr,
					"rssi":        adv.RSSI(),
					"connectable": obs.connectable,
				}).Debug("Discovered device")
			}
		}
		mu.Unlock()

		if obs.connectable && l.matchesName(name) {
			cancel()
		}
	}

	l.logger.WithField("timeout", l.opts.Timeout).Info("Scanning for rangefinder...")
	err := l.scanner.Scan(scanCtx, false, handler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return device.Descriptor{}, fmt.Errorf("scan failed: %w", err)
	}
	// A stop request is not a miss.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return device.Descriptor{}, ctxErr
	}

	mu.Lock()
	observed := make([]Seen, 0, seen.Len())
	candidates := make([]Seen, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		entry := Seen{Name: pair.Value.name, Address: pair.Key}
		observed = append(observed, entry)
		// A device that only broadcasts cannot be dialed.
		if pair.Value.connectable {
			candidates = append(candidates, entry)
		}
	}
	mu.Unlock()

	if d, ok := l.Match(candidates); ok {
		l.logger.WithFields(logrus.Fields{
			"device":  d.Name,
			"address": d.Address,
		}).Info("Rangefinder located")
		return d, nil
	}
	return device.Descriptor{}, &NotFoundError{Seen: observed}
}

// Match applies the two-tier rule to an observation list: first name hint match,
// else first address prefix match.
func (l *Locator) Match(observed []Seen) (device.Descriptor, bool) {
	for _, s := range observed {
		if l.matchesName(s.Name) {
			return device.Descriptor{Name: s.Name, Address: s.Address}, true
		}
	}
	if prefix := strings.ToUpper(strings.TrimSpace(l.opts.AddressPrefix)); prefix != "" {
		for _, s := range observed {
			if strings.HasPrefix(strings.ToUpper(s.Address), prefix) {
				return device.Descriptor{Name: s.Name, Address: s.Address}, true
			}
		}
	}
	return device.Descriptor{}, false
}

func (l *Locator) matchesName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, hint := range l.opts.NameHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}
