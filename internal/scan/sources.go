package scan

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/shieldscan/internal/lightwalletd"
	"github.com/Klingon-tech/shieldscan/internal/metrics"
	"github.com/Klingon-tech/shieldscan/internal/source"
)

// Dialer opens a block source for a server URL. The returned closer, if
// any, is called once the source is evicted and no scan still uses it.
type Dialer func(url string) (source.Source, io.Closer, error)

// GRPCDialer returns a Dialer connecting to light-wallet servers.
func GRPCDialer(opts lightwalletd.Options) Dialer {
	return func(url string) (source.Source, io.Closer, error) {
		c, err := lightwalletd.Dial(url, opts)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
}

// pooled is a cached source and its lease count. An evicted entry stays
// open until its last lease is released.
type pooled struct {
	url     string
	src     source.Source
	closer  io.Closer
	leases  int
	evicted bool
}

// sourcePool keeps one shaped source per server URL so repeated requests
// share the connection, the rate limit and the circuit breaker.
type sourcePool struct {
	mu      sync.Mutex
	dial    Dialer
	rate    int
	metrics *metrics.Metrics
	cache   *lru.Cache[string, *pooled]
	pinned  map[string]source.Source
	logger  zerolog.Logger
}

func newSourcePool(size int, dial Dialer, rate int, m *metrics.Metrics, logger zerolog.Logger) (*sourcePool, error) {
	p := &sourcePool{dial: dial, rate: rate, metrics: m, pinned: make(map[string]source.Source), logger: logger}
	// Called with p.mu held, from Add and Purge.
	cache, err := lru.NewWithEvict(size, func(_ string, e *pooled) {
		e.evicted = true
		if e.leases == 0 {
			p.closeEntry(e)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("source cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

func (p *sourcePool) closeEntry(e *pooled) {
	if e.closer == nil {
		return
	}
	if err := e.closer.Close(); err != nil {
		p.logger.Debug().Err(err).Str("server", e.url).Msg("Close evicted source")
	}
}

func noRelease() {}

// get leases the source for url, dialing it on first use. The caller must
// call release once done with the source.
func (p *sourcePool) get(url string) (source.Source, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.pinned[url]; ok {
		return src, noRelease, nil
	}
	e, ok := p.cache.Get(url)
	if !ok {
		raw, closer, err := p.dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: server %q: %v", ErrInvalidRequest, url, err)
		}
		e = &pooled{
			url:    url,
			src:    source.NewInstrumented(source.NewBreaker(url, source.NewRateLimited(raw, p.rate)), p.metrics),
			closer: closer,
		}
		e.leases++
		p.cache.Add(url, e)
		p.logger.Debug().Str("server", url).Msg("Source opened")
	} else {
		e.leases++
	}

	var once sync.Once
	return e.src, func() { once.Do(func() { p.release(e) }) }, nil
}

func (p *sourcePool) release(e *pooled) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.leases--
	if e.leases == 0 && e.evicted {
		p.closeEntry(e)
	}
}

// pin serves src for url without dialing. Pinned sources are not cached
// and never evicted.
func (p *sourcePool) pin(url string, src source.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[url] = src
}

// close evicts every pooled source. Sources still leased close when their
// last lease is released.
func (p *sourcePool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}

func (p *sourcePool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
