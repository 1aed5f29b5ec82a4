package types

import "fmt"

// Bytes is a uint64 wrapper representing a size in bytes.
type Bytes uint64

// Humanized returns a human-readable string with automatic unit (B, KB, MB, GB, TB).
func (b Bytes) Humanized() string {
	const unit = 1024
	v := float64(b)
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.2f TB", v/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", v/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", v/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", v/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// KB returns the number of kilobytes (1024 base).
func (b Bytes) KB() float64 { return float64(b) / 1024 }

// MB returns the number of megabytes (1024 base).
func (b Bytes) MB() float64 { return float64(b) / (1024 * 1024) }

// GB returns the number of gigabytes (1024 base).
func (b Bytes) GB() float64 { return float64(b) / (1024 * 1024 * 1024) }

// ToBytes converts a raw byte count into a Bytes value.
func ToBytes(n uint64) Bytes { return Bytes(n) }

// SizeBucket classifies b into one of five log-scale buckets. Used by the
// sampler fingerprint so near-identical workloads collide on the same key
// instead of differing by a handful of bytes.
func (b Bytes) SizeBucket() string {
	switch {
	case b < 1<<10:
		return "tiny"
	case b < 1<<16:
		return "small"
	case b < 1<<22:
		return "medium"
	case b < 1<<28:
		return "large"
	default:
		return "xlarge"
	}
}

// DurationBucket classifies a duration in seconds into one of five log-scale
// buckets, mirroring SizeBucket for time-valued fingerprint components.
func DurationBucket(seconds float64) string {
	switch {
	case seconds < 1e-4:
		return "instant"
	case seconds < 1e-2:
		return "fast"
	case seconds < 1e-1:
		return "moderate"
	case seconds < 1:
		return "slow"
	default:
		return "very_slow"
	}
}
