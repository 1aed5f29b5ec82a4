package sample

import "errors"

var (
	// ErrFuncUnpicklable means the caller declared Task.ProcessSafe=false,
	// which rules out a process executor before any item is touched.
	ErrFuncUnpicklable = errors.New("sample: function not declared process-safe")

	// ErrItemUnmarshalable means a sampled item failed a trial gob encode.
	ErrItemUnmarshalable = errors.New("sample: item failed trial marshal")
)
