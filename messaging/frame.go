// Package messaging implements the correlation-id request/response channel
// between a page session and the out-of-process rule engine.
//
// Every frame carries an integer id. Positive ids correlate a request with
// its reply, id 0 is fire-and-forget, negative ids are unsolicited
// announcements pushed by the engine.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Frame is the wire envelope exchanged over a Port.
type Frame struct {
	ID  int64           `json:"id"`
	Msg json.RawMessage `json:"msg,omitempty"`
}

// IsAnnouncement reports whether the frame is an unsolicited engine message.
func (f Frame) IsAnnouncement() bool { return f.ID < 0 }

var (
	// ErrClosed is returned by ports and channels once torn down.
	ErrClosed = errors.New("messaging: closed")

	// ErrNoID marks an inbound frame without a numeric id. Such frames are dropped.
	ErrNoID = errors.New("messaging: frame has no numeric id")
)

// DecodeFrame parses one JSON frame. The id must be an integral JSON number.
func DecodeFrame(data []byte) (Frame, error) {
	var raw struct {
		ID  json.RawMessage `json:"id"`
		Msg json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("messaging: decode frame: %w", err)
	}
	if len(raw.ID) == 0 || raw.ID[0] == '"' {
		return Frame{}, ErrNoID
	}
	id, err := strconv.ParseInt(string(raw.ID), 10, 64)
	if err != nil {
		return Frame{}, ErrNoID
	}
	return Frame{ID: id, Msg: raw.Msg}, nil
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Msg) == 0 {
		f.Msg = json.RawMessage("null")
	}
	return json.Marshal(f)
}
