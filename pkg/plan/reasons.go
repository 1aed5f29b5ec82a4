package plan

// RejectionReason is the machine-readable code spec.md §7 requires on every
// serial fallback: a one-line human message plus, where applicable, an
// actionable remediation.
type RejectionReason string

const (
	NoRejection               RejectionReason = ""
	EmptyInput                RejectionReason = "EmptyInput"
	TrivialInput              RejectionReason = "TrivialInput"
	UnpicklableFunction       RejectionReason = "UnpicklableFunction"
	UnpicklableData           RejectionReason = "UnpicklableData"
	SamplingError             RejectionReason = "SamplingError"
	WorkloadTooShort          RejectionReason = "WorkloadTooShort"
	MemoryConstrained         RejectionReason = "MemoryConstrained"
	InsufficientSpeedup       RejectionReason = "InsufficientSpeedup"
	NestedParallelismRejected RejectionReason = "NestedParallelismRejected"
)

// Message returns the one-line human-readable explanation for a reason.
func (r RejectionReason) Message() string {
	switch r {
	case EmptyInput:
		return "input collection is empty; nothing to parallelise"
	case TrivialInput:
		return "input collection has a single item; parallelising it cannot help"
	case UnpicklableFunction:
		return "function is not declared process-safe; cannot run in a subprocess worker"
	case UnpicklableData:
		return "one or more sampled items failed to marshal for subprocess transport"
	case SamplingError:
		return "the function raised an error while sampling; refusing to mask it by parallelising"
	case WorkloadTooShort:
		return "per-item cost is too small relative to worker spawn cost to benefit from parallelism"
	case MemoryConstrained:
		return "no candidate fit within the available memory budget"
	case InsufficientSpeedup:
		return "the best predicted speedup fell below the configured minimum"
	case NestedParallelismRejected:
		return "already running inside a worker and nested_parallelism_policy is reject"
	default:
		return ""
	}
}

// Remediation returns an actionable suggestion, where one exists.
func (r RejectionReason) Remediation() string {
	switch r {
	case UnpicklableFunction:
		return "define the function at package scope (or mark it ProcessSafe) so it can be dispatched to a subprocess, or force executor_kind=thread"
	case UnpicklableData:
		return "ensure sampled items are plain, gob-encodable values, or force executor_kind=thread"
	case SamplingError:
		return "fix the error raised on the sample item before requesting a parallel plan"
	case WorkloadTooShort:
		return "batch more work per call, or accept serial execution"
	case MemoryConstrained:
		return "reduce memory_fraction pressure elsewhere, or raise the memory budget"
	case NestedParallelismRejected:
		return "set nested_parallelism_policy=serialize to run with a single worker instead of rejecting outright"
	default:
		return ""
	}
}

// WarningCode is an ordered, non-fatal annotation on a Plan.
type WarningCode string

const (
	WarnHeterogeneous     WarningCode = "Heterogeneous"
	WarnIoBoundHint       WarningCode = "IoBoundHint"
	WarnNestedParallelism WarningCode = "NestedParallelism"
	WarnProbeDegraded     WarningCode = "ProbeDegraded"
	// WarnUnknownCount marks a plan scored against assumedUnknownCount
	// because the collection is BoundedOnePass/UnboundedStream with no
	// Options.EstimatedCount and sampling didn't drain it outright.
	WarnUnknownCount WarningCode = "UnknownCount"
)

// Warning pairs a code with free-form context, per spec.md §6's structured
// log event shape ("each event carries ... context").
type Warning struct {
	Code    WarningCode
	Context string
}
