package protocol

import (
	"errors"
	"fmt"

	"github.com/tacoreio/tacore/pkg/core"
)

// ErrMalformedEnvelope marks frames whose payload cannot be parsed or is
// missing required fields. The broker logs and drops such frames rather
// than propagating them.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Command is the single-byte discriminant on backend control frames.
type Command byte

const (
	// CmdReady is sent by a worker to register with the broker.
	CmdReady Command = 0x01
	// CmdHeartbeat is sent by an idle worker to signal liveness.
	CmdHeartbeat Command = 0x02
	// CmdRequest carries a dispatched Request from broker to worker.
	CmdRequest Command = 0x03
	// CmdReply carries a Response from worker to broker.
	CmdReply Command = 0x04
)

func (c Command) String() string {
	switch c {
	case CmdReady:
		return "READY"
	case CmdHeartbeat:
		return "HEARTBEAT"
	case CmdRequest:
		return "REQUEST"
	case CmdReply:
		return "REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(c))
	}
}

// EncodeRequest encodes a Request payload.
func EncodeRequest(req *Request) ([]byte, error) {
	return core.JSONEncode(req)
}

// DecodeRequest parses a Request payload, failing with ErrMalformedEnvelope
// when the JSON is invalid or required fields are absent.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := core.JSONDecode(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: request missing request_id", ErrMalformedEnvelope)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: request missing method", ErrMalformedEnvelope)
	}
	return &req, nil
}

// EncodeResponse encodes a Response payload.
func EncodeResponse(resp *Response) ([]byte, error) {
	return core.JSONEncode(resp)
}

// DecodeResponse parses a Response payload, failing with
// ErrMalformedEnvelope when the JSON is invalid or required fields are
// absent.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := core.JSONDecode(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if resp.RequestID == "" {
		return nil, fmt.Errorf("%w: response missing request_id", ErrMalformedEnvelope)
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: response missing status", ErrMalformedEnvelope)
	}
	return &resp, nil
}

// ControlFrames builds the payload frames of a backend control message:
// a one-byte command frame optionally followed by a JSON body frame.
func ControlFrames(cmd Command, body []byte) [][]byte {
	frames := [][]byte{{byte(cmd)}}
	if body != nil {
		frames = append(frames, body)
	}
	return frames
}

// ParseControl splits backend payload frames into command and body.
func ParseControl(frames [][]byte) (Command, []byte, error) {
	if len(frames) == 0 || len(frames[0]) != 1 {
		return 0, nil, fmt.Errorf("%w: missing command frame", ErrMalformedEnvelope)
	}
	cmd := Command(frames[0][0])
	switch cmd {
	case CmdReady, CmdHeartbeat, CmdRequest, CmdReply:
	default:
		return 0, nil, fmt.Errorf("%w: unknown command 0x%02x", ErrMalformedEnvelope, frames[0][0])
	}
	var body []byte
	if len(frames) > 1 {
		body = frames[1]
	}
	return cmd, body, nil
}
