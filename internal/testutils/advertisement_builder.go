package testutils

import (
	"context"
	"sync"

	"github.com/srg/glmlink/internal/device"
)

// FakeAdvertisement is a canned device.Advertisement.
type FakeAdvertisement struct {
	Name        string
	Address     string
	Rssi        int
	NotConnable bool
}

func (a FakeAdvertisement) LocalName() string { return a.Name }
func (a FakeAdvertisement) Addr() string      { return a.Address }
func (a FakeAdvertisement) RSSI() int         { return a.Rssi }
func (a FakeAdvertisement) Connectable() bool { return !a.NotConnable }

// AdvertisementBuilder helps build advertisements for tests
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a builder with a connectable default signal strength.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{Rssi: -60}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(address string) *AdvertisementBuilder {
	b.adv.Address = address
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.adv.NotConnable = !connectable
	return b
}

func (b *AdvertisementBuilder) Build() device.Advertisement {
	return b.adv
}

// FakeScanner replays advertisements in order. Unless Err is set, it then blocks
// until the scan context ends, like a real radio scan window.
type FakeScanner struct {
	Advertisements []device.Advertisement
	Err            error

	mu    sync.Mutex
	calls int
}

func (s *FakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	for _, adv := range s.Advertisements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	if s.Err != nil {
		return s.Err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls reports how many scans were started.
func (s *FakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
