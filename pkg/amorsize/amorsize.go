// Package amorsize is the public façade of spec.md §6: it wires the System
// Probe, Sampler, Cost Model, Planner, Decision Cache, Pool Manager,
// Streaming Planner, and Plan Executor behind Plan/Execute/PlanStream/
// ExecuteStream/SystemInfo/Validate and cache/hook administration.
package amorsize

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amorsize/amorsize/pkg/cache"
	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/executor"
	"github.com/amorsize/amorsize/pkg/hooks"
	"github.com/amorsize/amorsize/pkg/plan"
	"github.com/amorsize/amorsize/pkg/pool"
	"github.com/amorsize/amorsize/pkg/probe"
	"github.com/amorsize/amorsize/pkg/sample"
	"github.com/amorsize/amorsize/pkg/stream"
)

// Options enumerates the caller-tunable knobs of spec.md §6. The zero value
// is not meant to be used directly — construct with defaultOptions (via
// New) the way the teacher's pkg/consumption._defaultConfig does.
type Options struct {
	SampleSize              int
	TargetChunkSeconds      float64
	MaxWorkers              int
	ExecutorKind            costmodel.ExecutorKind // "" lets the planner decide
	PreferOrdered           *bool                  // nil == auto
	MinSpeedup              float64
	MemoryFraction          float64
	StreamingMemoryFraction float64
	CacheTTLSeconds         int64
	NestedParallelismPolicy plan.NestedParallelismPolicy
	NoCache                 bool
	GracePeriod             time.Duration
	PoolIdleTimeout         time.Duration

	// EstimatedCount is the caller's best-effort total item count for a
	// BoundedOnePass or UnboundedStream collection (see
	// data.Collection.Kind); RandomAccess collections report their own
	// count and ignore this. Leave unset when no estimate is available.
	EstimatedCount int
}

// defaultOptions mirrors the teacher's _defaultConfig precedent: a single
// function filling in every documented default from spec.md §6.
func defaultOptions() Options {
	return Options{
		SampleSize:              5,
		TargetChunkSeconds:      0.2,
		MinSpeedup:              1.2,
		MemoryFraction:          0.5,
		StreamingMemoryFraction: 0.1,
		CacheTTLSeconds:         7 * 24 * 3600,
		NestedParallelismPolicy: plan.NestedSerialize,
		GracePeriod:             5 * time.Second,
		PoolIdleTimeout:         5 * time.Minute,
	}
}

func mergeDefaults(o Options) Options {
	d := defaultOptions()
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.TargetChunkSeconds <= 0 {
		o.TargetChunkSeconds = d.TargetChunkSeconds
	}
	if o.MinSpeedup <= 0 {
		o.MinSpeedup = d.MinSpeedup
	}
	if o.MemoryFraction <= 0 {
		o.MemoryFraction = d.MemoryFraction
	}
	if o.StreamingMemoryFraction <= 0 {
		o.StreamingMemoryFraction = d.StreamingMemoryFraction
	}
	if o.CacheTTLSeconds <= 0 {
		o.CacheTTLSeconds = d.CacheTTLSeconds
	}
	if o.NestedParallelismPolicy == "" {
		o.NestedParallelismPolicy = d.NestedParallelismPolicy
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = d.GracePeriod
	}
	if o.PoolIdleTimeout <= 0 {
		o.PoolIdleTimeout = d.PoolIdleTimeout
	}
	return o
}

// Client bundles the singletons a running process needs: the pool manager
// (long-lived, reusable across calls per spec.md §4.F), the hook registry,
// and — unless disabled — the filesystem decision cache.
type Client struct {
	opts  Options
	cache *cache.Cache // nil when caching is disabled
	pools *pool.Manager
	hooks *hooks.Registry
}

// New constructs a Client. workerArgs are the hidden re-exec arguments a
// subprocess worker recognizes (see cmd/amorsize's "-amorsize-worker"
// flag); pass nil if this process never uses executor_kind=process.
func New(opts Options, workerArgs ...string) (*Client, error) {
	opts = mergeDefaults(opts)

	c := &Client{
		opts:  opts,
		pools: pool.NewManager(opts.PoolIdleTimeout, workerArgs...),
		hooks: hooks.NewRegistry(),
	}

	if !opts.NoCache && os.Getenv("AMORSIZE_NO_CACHE") != "1" {
		ch, err := cache.New(cacheRoot())
		if err != nil {
			return nil, err
		}
		c.cache = ch
	}
	return c, nil
}

func cacheRoot() string {
	home := os.Getenv("AMORSIZE_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(h, ".amorsize")
		} else {
			home = ".amorsize"
		}
	}
	return filepath.Join(home, "cache")
}

// Register installs a hook callback for event ("on_plan", "on_chunk_done",
// "on_progress", "on_error"), per spec.md §6.
func (c *Client) Register(event hooks.Event, cb hooks.Callback) {
	c.hooks.Register(event, cb)
}

// SystemInfo implements system_info() of spec.md §6.
func (c *Client) SystemInfo() *probe.Info {
	return probe.Detect()
}

// HealthReport is the result of Validate(): the probed SystemInfo plus
// whether every detector succeeded without falling back to a default.
type HealthReport struct {
	OK       bool
	Info     *probe.Info
	Warnings []string
}

// Validate implements validate() of spec.md §6/§8: it runs the probe and
// reports whether every detection layer succeeded cleanly.
func (c *Client) Validate() HealthReport {
	info := probe.Detect()
	return HealthReport{
		OK:       len(info.Warnings) == 0 && info.SpawnCostTrusted,
		Info:     info,
		Warnings: info.Warnings,
	}
}

func (c *Client) planOptions() plan.Options {
	return plan.Options{
		SampleSize:              c.opts.SampleSize,
		TargetChunkSeconds:      c.opts.TargetChunkSeconds,
		MaxWorkers:              c.opts.MaxWorkers,
		ForceExecutorKind:       c.opts.ExecutorKind,
		MinSpeedup:              c.opts.MinSpeedup,
		MemoryFraction:          c.opts.MemoryFraction,
		CacheTTLSeconds:         c.opts.CacheTTLSeconds,
		NestedParallelismPolicy: c.opts.NestedParallelismPolicy,
		EstimatedCount:          c.opts.EstimatedCount,
	}
}

func (c *Client) orderPreference() stream.OrderPreference {
	if c.opts.PreferOrdered == nil {
		return stream.OrderAuto
	}
	if *c.opts.PreferOrdered {
		return stream.OrderOrdered
	}
	return stream.OrderUnordered
}

func systemSignatureOf(info *probe.Info) cache.SystemSignature {
	return cache.SystemSignature{
		PhysicalCores: info.PhysicalCores,
		SpawnMethod:   string(info.SpawnMethod),
		MemoryBucket:  plan.MemoryBucket(info.MemoryLimit),
	}
}

// applyCache implements the Decision Cache half of spec.md §4.D/§4.E: a hit
// overwrites p's decision fields (never its DataHandle, which is always
// this call's live data) with the cached ones; a miss stores the freshly
// computed decision. Structured log events plan_decided/cache_hit/
// cache_miss follow spec.md §6.
func applyCache[T any](c *Client, fingerprint string, p *plan.OptimizationPlan[T]) {
	if c.cache == nil {
		return
	}
	sig := systemSignatureOf(probe.Detect())

	if entry, _, hit := c.cache.Lookup(fingerprint, sig); hit {
		p.NWorkers = entry.Plan.NWorkers
		p.Chunksize = entry.Plan.Chunksize
		p.ExecutorKind = entry.Plan.ExecutorKind
		p.PredictedWallSeconds = entry.Plan.PredictedWallSeconds
		p.PredictedSpeedup = entry.Plan.PredictedSpeedup
		p.RejectionReason = entry.Plan.RejectionReason
		p.Warnings = entry.Plan.Warnings
		p.Explanation = entry.Plan.Explanation
		slog.Info("cache_hit", "fingerprint", fingerprint)
		return
	}

	e := cache.Entry{
		Fingerprint:     fingerprint,
		PlanVersion:     cache.CurrentPlanVersion,
		CreatedAt:       timeNow(),
		TTLSeconds:      c.opts.CacheTTLSeconds,
		SystemSignature: sig,
		Plan:            cache.SummaryOf(*p),
	}
	if err := c.cache.Store(e); err != nil {
		slog.Warn("amorsize: cache store failed", "fingerprint", fingerprint, "err", err)
	}
	slog.Info("cache_miss", "fingerprint", fingerprint)
}

var timeNow = time.Now

// Plan implements plan(func, data, options) of spec.md §6.
func Plan[T, R any](c *Client, task sample.Task[T, R], coll data.Collection[T]) plan.OptimizationPlan[T] {
	p, s := plan.Plan(task, coll, c.planOptions())
	applyCache(c, s.Fingerprint, &p)

	slog.Info("plan_decided",
		"fingerprint", s.Fingerprint,
		"executor_kind", string(p.ExecutorKind),
		"n_workers", p.NWorkers,
		"chunksize", p.Chunksize,
		"rejection_reason", string(p.RejectionReason),
	)
	return p
}

// Execute implements execute(func, data, options) of spec.md §6: plan,
// then apply the Plan Executor adapter.
func Execute[T, R any](ctx context.Context, c *Client, job executor.Job[T, R], task sample.Task[T, R], coll data.Collection[T]) ([]R, error) {
	p := Plan(c, task, coll)
	return executor.Run(ctx, job, p, c.pools, executor.Options{GracePeriod: c.opts.GracePeriod}, c.hooks)
}

// PlanStream implements plan_stream(func, data, options) of spec.md §6.
func PlanStream[T, R any](c *Client, task sample.Task[T, R], coll data.Collection[T]) stream.StreamPlan[T] {
	sopts := stream.Options{
		Plan:                    c.planOptions(),
		StreamingMemoryFraction: c.opts.StreamingMemoryFraction,
		OrderPreference:         c.orderPreference(),
	}
	sp, s := stream.Plan(task, coll, sopts)
	applyCache(c, s.Fingerprint, &sp.OptimizationPlan)

	slog.Info("plan_decided",
		"fingerprint", s.Fingerprint,
		"executor_kind", string(sp.ExecutorKind),
		"n_workers", sp.NWorkers,
		"buffer_size", sp.BufferSize,
		"ordered", sp.Ordered,
	)
	return sp
}

// ExecuteStream implements execute_stream(func, data, options) of spec.md
// §6: a lazy sequence of results, never materialising more than the
// stream plan's buffer size ahead of the consumer.
func ExecuteStream[T, R any](ctx context.Context, c *Client, job executor.Job[T, R], task sample.Task[T, R], coll data.Collection[T]) iter.Seq[R] {
	sp := PlanStream(c, task, coll)
	return executor.RunStream(ctx, job, sp, c.pools, c.hooks)
}

// CacheStats implements cache.stats() of spec.md §6.
func (c *Client) CacheStats() (cache.Stats, error) {
	if c.cache == nil {
		return cache.Stats{}, nil
	}
	return c.cache.CacheStats()
}

// CacheList implements cache.list() of spec.md §6.
func (c *Client) CacheList() ([]cache.Entry, error) {
	if c.cache == nil {
		return nil, nil
	}
	return c.cache.List()
}

// CacheShow implements cache.show(fingerprint) of spec.md §6.
func (c *Client) CacheShow(fingerprint string) (cache.Entry, bool, error) {
	if c.cache == nil {
		return cache.Entry{}, false, nil
	}
	return c.cache.Get(fingerprint)
}

// CachePrune implements cache.prune() of spec.md §6.
func (c *Client) CachePrune() (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.Prune()
}

// CacheClear implements cache.clear() of spec.md §6.
func (c *Client) CacheClear() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear()
}

// Shutdown releases every pool the Client's manager is holding. Callers
// that built a Client for the lifetime of a single process don't need to
// call this; it matters for tests and short-lived embeddings.
func (c *Client) Shutdown() error {
	return c.pools.Shutdown()
}
