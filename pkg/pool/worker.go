package pool

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"log/slog"

	"github.com/amorsize/amorsize/pkg/ambient"
)

// RunWorker is the subprocess-side loop: a re-exec'd binary calls this from
// main() when it detects the hidden worker flag. It reads framed Requests
// from r, dispatches each to the process-wide task registry, and writes
// framed Responses to w, until r is closed (parent process exited or
// closed its pipe).
func RunWorker(r io.Reader, w io.Writer) {
	ambient.MarkProcessWorker()

	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	for {
		payload, err := readFrame(br)
		if err != nil {
			if err != io.EOF {
				slog.Error("pool: worker frame read failed", "err", err)
			}
			return
		}

		var req Request
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&req); err != nil {
			writeResponse(bw, Response{Err: "pool: decode request: " + err.Error()})
			continue
		}

		task, ok := Lookup(req.Task)
		if !ok {
			writeResponse(bw, Response{Err: ErrUnknownTask.Error()})
			continue
		}

		out, err := task(req.Item)
		if err != nil {
			writeResponse(bw, Response{Err: err.Error()})
			continue
		}
		writeResponse(bw, Response{Output: out})
	}
}

func writeResponse(w io.Writer, resp Response) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		slog.Error("pool: worker encode response failed", "err", err)
		return
	}
	if err := writeFrame(w, buf.Bytes()); err != nil {
		slog.Error("pool: worker write response failed", "err", err)
	}
}
