package cache

import (
	"time"

	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/plan"
)

// CurrentPlanVersion is bumped on incompatible CacheEntry schema changes.
const CurrentPlanVersion = 1

// PlanSummary is OptimizationPlan without its generic DataHandle, per
// spec.md §3's CacheEntry definition — a data handle is per-call state,
// never something that should be replayed from a cached decision.
type PlanSummary struct {
	NWorkers             int                    `json:"n_workers"`
	Chunksize            int                    `json:"chunksize"`
	ExecutorKind         costmodel.ExecutorKind `json:"executor_kind"`
	PredictedWallSeconds float64                `json:"predicted_wall_seconds"`
	PredictedSpeedup     float64                `json:"predicted_speedup"`
	RejectionReason      plan.RejectionReason   `json:"rejection_reason,omitempty"`
	Warnings             []plan.Warning         `json:"warnings,omitempty"`
	Explanation          string                 `json:"explanation"`
}

// SummaryOf strips the DataHandle off an OptimizationPlan for persistence.
func SummaryOf[T any](p plan.OptimizationPlan[T]) PlanSummary {
	return PlanSummary{
		NWorkers:             p.NWorkers,
		Chunksize:            p.Chunksize,
		ExecutorKind:         p.ExecutorKind,
		PredictedWallSeconds: p.PredictedWallSeconds,
		PredictedSpeedup:     p.PredictedSpeedup,
		RejectionReason:      p.RejectionReason,
		Warnings:             p.Warnings,
		Explanation:          p.Explanation,
	}
}

// SystemSignature is the coarse (physical_cores, spawn_method, memory
// bucket) tuple a CacheEntry is valid against.
type SystemSignature struct {
	PhysicalCores int    `json:"physical_cores"`
	SpawnMethod   string `json:"spawn_method"`
	MemoryBucket  uint64 `json:"memory_bucket"`
}

// Entry is the on-disk CacheEntry of spec.md §3/§4.E.
type Entry struct {
	Fingerprint     string          `json:"fingerprint"`
	PlanVersion     int             `json:"plan_version"`
	CreatedAt       time.Time       `json:"created_at"`
	TTLSeconds      int64           `json:"ttl_seconds"`
	SystemSignature SystemSignature `json:"system_signature"`
	Plan            PlanSummary     `json:"plan"`
}

// Expired reports whether now is at or past CreatedAt+TTL.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// CompatibleWith reports whether e's SystemSignature matches the current
// probe's signature and plan version.
func (e Entry) CompatibleWith(current SystemSignature) bool {
	return e.PlanVersion == CurrentPlanVersion && e.SystemSignature == current
}
