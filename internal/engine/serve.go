package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rcliao/aime/internal/model"
	"github.com/rcliao/aime/internal/tracker"
)

// maxRequestBytes bounds one request line: a full-size turn plus envelope.
const maxRequestBytes = 2*model.MaxContentBytes + 64<<10

// Response is one line of host bridge output.
type Response struct {
	OK     bool   `json:"ok"`
	Action string `json:"action,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// ErrorCode maps an error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrCorruptData):
		return "corrupt_data"
	case errors.Is(err, tracker.ErrDegraded):
		return "degraded"
	case errors.Is(err, model.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// Serve reads newline-delimited JSON requests from r and writes one response
// line per request to w until r is exhausted or ctx is done. Blank lines are
// skipped. Request failures are reported in-band; only I/O errors end Serve.
func (e *Engine) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxRequestBytes)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp := Response{OK: true}
		req, err := DecodeRequest(line)
		if err == nil {
			resp.Action = req.Action()
			resp.Result, err = e.Handle(ctx, req)
		}
		if err != nil {
			e.log.Debug("request failed", "action", resp.Action, "err", err)
			resp = Response{Action: resp.Action, Error: err.Error(), Code: ErrorCode(err)}
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}
