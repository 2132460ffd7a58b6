// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"lvmcache/internal/events"
)

// Cache is the whole in-memory metadata cache: the four indexes, the
// duplicate resolver's lists, the lock registry, and the saved-VG
// buffer. A Cache has the lifetime of one command; construct a fresh
// one per command rather than sharing a single process-wide instance
// (§9 "Design Notes").
//
// Cache is not safe for concurrent use by multiple goroutines.
type Cache struct {
	log      logr.Logger
	recorder events.Recorder
	tracer   trace.Tracer
	metrics  *Metrics

	isClusterDaemon       bool
	scanningInProgress    bool
	criticalSectionActive bool

	// Registry indexes (§4.1).
	pvByID   map[PVID]*PVInfo
	vgByID   map[VGID]*VGInfo
	vgByName map[string]*VGInfo // head of the alias chain for this name
	devInfo  map[string]*PVInfo // device path -> labeled PVInfo

	vgOrder []*VGInfo // real VGs at head, orphan VGs at tail

	// Duplicate resolver state (§4.4).
	foundDuplicates  []duplicateCandidate
	unusedDuplicates []unusedDuplicate

	// carriedUnusedDuplicates holds the unused-duplicates list across a
	// destroy/init cycle within the same command, per §4.1 "Destroy".
	carriedUnusedDuplicates []unusedDuplicate

	// Lock registry state (§4.5).
	locks                   map[string]struct{}
	lockOrderingEnabled     bool
	deviceSizeSeqno         uint64
	globalLockHeldAtDestroy bool

	// Saved-VG buffer state (§4.6), daemon use only.
	saved         map[VGID]*savedSlot
	metadataStore MetadataStore
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger sets the logger used for warnings and programming-error
// reports. Defaults to logr.Discard().
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithRecorder sets the event recorder used to surface duplicate and
// mismatch warnings in addition to log lines. Defaults to a no-op
// recorder.
func WithRecorder(r events.Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithTracerProvider sets the tracer provider used to create spans
// around cache operations.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) { c.tracer = tp.Tracer("lvmcache/internal/cache") }
}

// WithMetrics attaches a Metrics set that is updated as the cache
// mutates.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithMetadataStore overrides the default gob-based MetadataStore used
// by the saved-VG buffer to produce deep copies (§4.6, §6).
func WithMetadataStore(s MetadataStore) Option {
	return func(c *Cache) { c.metadataStore = s }
}

// New constructs an empty Cache and calls Init(ctx, false) on it.
func New(ctx context.Context, opts ...Option) *Cache {
	c := &Cache{
		log:                 logr.Discard(),
		recorder:            events.NewNoopRecorder(),
		tracer:              noop.NewTracerProvider().Tracer("lvmcache/internal/cache"),
		lockOrderingEnabled: true,
		metadataStore:       gobMetadataStore{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Init(ctx, false)
	return c
}

// Init (re-)initializes the four indexes and the lock state. The
// saved-VG buffer is created if absent and otherwise kept as it is.
// If a previous Destroy left the global lock flagged as held, Init
// re-locks VG_GLOBAL, carrying that state across the destroy/init
// boundary (§4.5).
func (c *Cache) Init(ctx context.Context, isClusterDaemon bool) {
	_, span := c.tracer.Start(ctx, "cache.Init")
	defer span.End()

	c.isClusterDaemon = isClusterDaemon
	c.scanningInProgress = false

	c.pvByID = make(map[PVID]*PVInfo)
	c.vgByID = make(map[VGID]*VGInfo)
	c.vgByName = make(map[string]*VGInfo)
	c.devInfo = make(map[string]*PVInfo)
	c.vgOrder = nil

	c.foundDuplicates = nil
	c.unusedDuplicates = append([]unusedDuplicate(nil), c.carriedUnusedDuplicates...)
	c.carriedUnusedDuplicates = nil

	c.locks = make(map[string]struct{})
	c.deviceSizeSeqno = 0

	if c.saved == nil {
		c.saved = make(map[VGID]*savedSlot)
	}

	if c.globalLockHeldAtDestroy {
		c.globalLockHeldAtDestroy = false
		_ = c.Lock(ctx, VGGlobal)
	}

	c.refreshIndexMetrics()
}

// Destroy tears the cache down. If retainOrphans is true, orphan
// VGInfos and their members are kept; everything else is unlinked. The
// saved-VG buffer is always drained when reset is true.
//
// Destroy is always safe and idempotent (§5).
func (c *Cache) Destroy(ctx context.Context, retainOrphans, reset bool) {
	_, span := c.tracer.Start(ctx, "cache.Destroy")
	defer span.End()

	for name := range c.locks {
		if name != VGGlobal {
			c.log.Error(ErrDestroyedWhileLocked, "programming error: vg left locked at destroy", "vg", name)
			if c.metrics != nil {
				c.metrics.lockProgrammingErrors.Inc()
			}
		}
	}
	if _, held := c.locks[VGGlobal]; held {
		c.globalLockHeldAtDestroy = true
	}

	var keep []*VGInfo
	for _, vg := range c.vgOrder {
		if retainOrphans && vg.IsOrphan {
			keep = append(keep, vg)
		}
	}

	c.vgByName = make(map[string]*VGInfo)
	c.vgByID = make(map[VGID]*VGInfo)
	c.vgOrder = nil
	c.pvByID = make(map[PVID]*PVInfo)
	c.devInfo = make(map[string]*PVInfo)

	for _, vg := range keep {
		vg.next = nil
		c.vgByID[vg.ID] = vg
		c.linkIntoNameIndex(vg)
		c.vgOrder = append(c.vgOrder, vg)
		for _, info := range vg.Infos {
			c.pvByID[info.PVID] = info
			c.devInfo[info.Device.Path()] = info
		}
	}

	// Carry the unused-duplicates list forward so the next scan within
	// this command can make the same choices (§4.1).
	c.carriedUnusedDuplicates = c.unusedDuplicates
	c.unusedDuplicates = nil
	c.foundDuplicates = nil

	if reset {
		for vgid := range c.saved {
			c.dropSlot(vgid, false)
		}
	}

	c.locks = make(map[string]struct{})
	c.refreshIndexMetrics()
}

// linkIntoNameIndex inserts vg into c.vgByName, applying the
// chain-insertion policy if a VG already occupies that name slot.
// Used by Destroy to rebuild the index for retained orphans.
func (c *Cache) linkIntoNameIndex(vg *VGInfo) {
	existing, ok := c.vgByName[vg.Name]
	if !ok {
		c.vgByName[vg.Name] = vg
		return
	}
	winner, loser := chainInsertionWinner(existing, vg)
	c.vgByName[vg.Name] = winner

	displacedChain := loser.next
	loser.next = nil

	tail := winner
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = loser

	tail = loser
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = displacedChain
}

// SeedEntry is one pre-scanned PV as reported by an external metadata
// daemon, carrying the same fields a label scan would have produced.
type SeedEntry struct {
	Labeller     Labeller
	PVID         PVID
	Device       Device
	VGName       string
	VGID         VGID
	VGStatus     VGStatus
	CreationHost string
	LockType     string
	SystemID     string
	Seqno        *uint64
	MDASize      *uint64
	MDAChecksum  *uint32
}

// SeedFromMetadataDaemon populates the cache from entries already
// collected by an external metadata daemon instead of a local label
// scan: the wire format that got them here is out of scope, only their
// ingestion into the registry is the cache's concern (§6). Each entry
// is fed through Add and then UpdateVGNameAndID exactly as a normal
// scan would, under the same re-entrancy guard.
func (c *Cache) SeedFromMetadataDaemon(ctx context.Context, entries []SeedEntry) error {
	if err := c.BeginScan(); err != nil {
		return err
	}
	defer c.EndScan()

	for _, e := range entries {
		info, ok := c.Add(ctx, e.Labeller, e.PVID, e.Device, e.VGName, e.VGID, e.VGStatus)
		if !ok {
			continue
		}
		c.UpdateVGNameAndID(ctx, info, Summary{
			VGName:       e.VGName,
			VGID:         e.VGID,
			VGStatus:     e.VGStatus,
			CreationHost: e.CreationHost,
			LockType:     e.LockType,
			SystemID:     e.SystemID,
			Seqno:        e.Seqno,
			MDASize:      e.MDASize,
			MDAChecksum:  e.MDAChecksum,
		})
	}
	return nil
}

func (c *Cache) refreshIndexMetrics() {
	if c.metrics == nil {
		return
	}
	c.metrics.pvCount.Set(float64(len(c.pvByID)))
	c.metrics.vgCount.Set(float64(len(c.vgByID)))
	c.metrics.unusedDuplicates.Set(float64(len(c.unusedDuplicates)))
}
