package chash

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/creasty/defaults"
	"github.com/inhies/go-bytesize"
	"github.com/pkg/errors"

	"maglev-hash/hasher"
	ilog "maglev-hash/x/log"
)

// ConsistentHash is a consistent hash interface. Its implementation is thread-safe.
//
// In Maglev, this algorithm is used to map packets to backends. Depending on the hash of the packet header (the key),
// a backend is selected from the lookup table using MOD operation.
//
// This hash algorithm allows dynamic addition and removal of backends, with minimal disruption to the existing mapping.
// Particularly useful when packets should be routed to the same backend consistently to maintain connection state.
//
// Every membership change recomputes the whole lookup table from the permutations, so each backend
// ends up with either floor(M/N) or ceil(M/N) slots. Lookups never wait for a rebuild; they keep
// seeing the previous table until the new one is complete.
//
// Implementation defines in the Maglev paper:
// https://static.googleusercontent.com/media/research.google.com/en//pubs/archive/44824.pdf
type ConsistentHash interface {
	// Add adds the given backends to the consistent hash.
	// Backends already present are ignored. If returning an error, the consistent hash is unchanged.
	Add(backends ...string) error
	// Remove removes the given backends from the consistent hash.
	// Backends not present are ignored.
	Remove(backends ...string) error
	// Resolve returns the backend for the given flow key.
	Resolve(flowKey []byte) (string, error)
	// ResolveString is Resolve for a string flow key.
	ResolveString(flowKey string) (string, error)
	// Hash returns the backend for an already hashed key.
	Hash(key uint64) (string, error)
	// BackendCount returns the number of backends.
	BackendCount() int
	// Backends returns the backends in index order.
	Backends() []string
	// IndexOf returns the current index of the given backend.
	IndexOf(backend string) (int, error)
	// LookupTable returns the backend of every slot, or nil if there are no backends.
	LookupTable() []string
	// Size returns the size of the lookup table.
	Size() uint32
	// Stats returns a summary of the current table.
	Stats() Stats
}

// Stats describes a lookup table.
type Stats struct {
	Size     uint32
	Backends int
	// Slots is the number of lookup table slots owned by each backend.
	Slots map[string]int
	// PermutationMemory is the memory held by the backends' permutations.
	PermutationMemory bytesize.ByteSize
}

// snapshot is an immutable view of the table published to readers.
type snapshot struct {
	entries  []int32
	backends []string
	index    map[string]int
}

type consistentHashImpl struct {
	cfg Config

	offsetHash hasher.Hasher
	skipHash   hasher.Hasher
	flowHash   hasher.Hasher

	// mu serializes membership changes. reg is only touched with mu held.
	mu  sync.Mutex
	reg *registry

	table   atomic.Pointer[snapshot]
	metrics *metrics
}

// NewConsistentHash creates a new ConsistentHash.
// The size must be a prime number. Use SmallSize or LargeSize for common sizes.
func NewConsistentHash(opts ...Option) (ConsistentHash, error) {
	cfg := Config{
		logger: ilog.Component("chash"),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	cfg.logger = cfg.logger.With().Str("table", cfg.Name).Logger()

	if !IsPrime(cfg.Size) {
		return nil, errors.Wrapf(ErrConfiguration, "size %d is not prime", cfg.Size)
	}

	var err error
	c := &consistentHashImpl{
		cfg: cfg,
		reg: newRegistry(),
	}
	if c.offsetHash, err = resolveHasher(cfg.offsetHasher, cfg.OffsetHash); err != nil {
		return nil, err
	}
	if c.skipHash, err = resolveHasher(cfg.skipHasher, cfg.SkipHash); err != nil {
		return nil, err
	}
	if c.flowHash, err = resolveHasher(cfg.flowHasher, cfg.FlowHash); err != nil {
		return nil, err
	}
	c.metrics = newMetrics(cfg.registerer, cfg.Name)
	c.table.Store(&snapshot{index: map[string]int{}})

	if len(cfg.Backends) > 0 {
		if err := c.Add(cfg.Backends...); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func resolveHasher(injected hasher.Hasher, name string) (hasher.Hasher, error) {
	if injected != nil {
		return injected, nil
	}
	h, err := hasher.ByName(name)
	if err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	return h, nil
}

func (c *consistentHashImpl) Size() uint32 {
	return c.cfg.Size
}

// Add computes permutations only for the new backends, then repopulates the whole table.
func (c *consistentHashImpl) Add(backends ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	next, added, err := c.reg.withAdded(backends)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return nil
	}

	if mem := c.cfg.permutationMemory(next.len()); mem > c.cfg.MaxPermutationMemory {
		return errors.Wrapf(ErrConfiguration,
			"%d backends need %s of permutations, limit is %s",
			next.len(), mem, c.cfg.MaxPermutationMemory)
	}

	next.permutations = append(next.permutations,
		buildPermutations(added, c.cfg.Size, c.offsetHash, c.skipHash)...)

	if err := c.publish(next); err != nil {
		c.cfg.logger.Err(err).Strs("added", added).Msg("Failed to rebuild lookup table")
		return err
	}
	c.observe(opAdd, start, next)
	c.cfg.logger.Info().
		Strs("added", added).
		Int("backends", next.len()).
		Dur("duration", time.Since(start)).
		Stringer("permutation_memory", c.cfg.permutationMemory(next.len())).
		Msg("Backends added")
	return nil
}

// Remove drops the backends from the registry, renumbers the survivors and repopulates the table.
func (c *consistentHashImpl) Remove(backends ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	next, removed, missing := c.reg.withRemoved(backends)
	if len(missing) > 0 {
		c.cfg.logger.Debug().
			Strs("backends", missing).
			Msg("Backends do not exist to remove")
	}
	if len(removed) == 0 {
		return nil
	}

	if err := c.publish(next); err != nil {
		c.cfg.logger.Err(err).Strs("removed", removed).Msg("Failed to rebuild lookup table")
		return err
	}
	c.observe(opRemove, start, next)
	c.cfg.logger.Info().
		Strs("removed", removed).
		Int("backends", next.len()).
		Dur("duration", time.Since(start)).
		Msg("Backends removed")
	return nil
}

// publish populates a new table from reg and swaps it in.
// Assumes mu is locked. On error nothing is changed.
func (c *consistentHashImpl) publish(reg *registry) error {
	if len(reg.permutations) != reg.len() {
		return errors.Wrapf(ErrConsistency,
			"%d permutations for %d backends", len(reg.permutations), reg.len())
	}

	entries, err := populate(reg.permutations, c.cfg.Size)
	if err != nil {
		return err
	}

	c.reg = reg
	c.table.Store(&snapshot{
		entries:  entries,
		backends: reg.backends,
		index:    reg.index,
	})
	return nil
}

func (c *consistentHashImpl) observe(op string, start time.Time, reg *registry) {
	c.metrics.rebuilds.WithLabelValues(op).Inc()
	c.metrics.rebuildDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.metrics.backends.Set(float64(reg.len()))
}

// Resolve runs in O(1) time plus the flow hash.
func (c *consistentHashImpl) Resolve(flowKey []byte) (string, error) {
	return c.Hash(c.flowHash.Sum64(flowKey))
}

func (c *consistentHashImpl) ResolveString(flowKey string) (string, error) {
	return c.Resolve([]byte(flowKey))
}

func (c *consistentHashImpl) Hash(key uint64) (string, error) {
	backend, err := c.table.Load().lookup(key, c.cfg.Size)
	if err != nil {
		c.metrics.resolveErrors.Inc()
	}
	return backend, err
}

func (s *snapshot) lookup(key uint64, size uint32) (string, error) {
	if len(s.backends) == 0 {
		return "", ErrNoBackends
	}
	if len(s.entries) != int(size) {
		return "", errors.Wrapf(ErrConsistency, "lookup table has %d slots, want %d", len(s.entries), size)
	}

	slot := key % uint64(size)
	idx := s.entries[slot]
	if idx < 0 || int(idx) >= len(s.backends) {
		return "", errors.Wrapf(ErrConsistency, "slot %d holds backend index %d of %d", slot, idx, len(s.backends))
	}
	return s.backends[idx], nil
}

func (c *consistentHashImpl) BackendCount() int {
	return len(c.table.Load().backends)
}

func (c *consistentHashImpl) Backends() []string {
	backends := c.table.Load().backends
	out := make([]string, len(backends))
	copy(out, backends)
	return out
}

func (c *consistentHashImpl) IndexOf(backend string) (int, error) {
	if idx, ok := c.table.Load().index[backend]; ok {
		return idx, nil
	}
	return 0, errors.Wrapf(ErrNotFound, "backend %q", backend)
}

func (c *consistentHashImpl) LookupTable() []string {
	s := c.table.Load()
	if len(s.backends) == 0 {
		return nil
	}

	lookup := make([]string, len(s.entries))
	for i, idx := range s.entries {
		if idx >= 0 {
			lookup[i] = s.backends[idx]
		}
	}
	return lookup
}

func (c *consistentHashImpl) Stats() Stats {
	s := c.table.Load()
	stats := Stats{
		Size:              c.cfg.Size,
		Backends:          len(s.backends),
		Slots:             make(map[string]int, len(s.backends)),
		PermutationMemory: c.cfg.permutationMemory(len(s.backends)),
	}
	for _, backend := range s.backends {
		stats.Slots[backend] = 0
	}
	if len(s.backends) == 0 {
		return stats
	}
	for _, idx := range s.entries {
		if idx >= 0 {
			stats.Slots[s.backends[idx]]++
		}
	}
	return stats
}
