package protocol

import (
	"errors"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req := NewRequest("scan.market", map[string]interface{}{"market": "crypto"})
	if req.RequestID == "" {
		t.Fatalf("expected generated request id")
	}
	if req.Timestamp == 0 {
		t.Fatalf("expected timestamp")
	}

	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.RequestID != req.RequestID || got.Method != req.Method {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
	if got.Params["market"] != "crypto" {
		t.Fatalf("params lost: %+v", got.Params)
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"request_id": `},
		{"missing request_id", `{"method":"scan.market","params":{}}`},
		{"missing method", `{"request_id":"r-1","params":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeRequest([]byte(tc.payload)); !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
			}
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `not json`},
		{"missing request_id", `{"status":"success"}`},
		{"missing status", `{"request_id":"r-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeResponse([]byte(tc.payload)); !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
			}
		})
	}
}

func TestResponseHelpers(t *testing.T) {
	t.Parallel()

	ok := NewSuccessResponse("r-1", map[string]interface{}{"k": "v"})
	if !ok.IsSuccess() {
		t.Fatalf("expected success status")
	}
	payload, err := EncodeResponse(ok)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.RequestID != "r-1" || got.Data["k"] != "v" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	fail := NewErrorResponse("r-2", ErrorWorkerTimeout)
	if fail.IsSuccess() {
		t.Fatalf("expected error status")
	}
	if fail.Error != ErrorWorkerTimeout {
		t.Fatalf("unexpected error string: %q", fail.Error)
	}
}

func TestControlFrames(t *testing.T) {
	t.Parallel()

	frames := ControlFrames(CmdReply, []byte(`{"request_id":"r-1","status":"success"}`))
	cmd, body, err := ParseControl(frames)
	if err != nil {
		t.Fatalf("ParseControl: %v", err)
	}
	if cmd != CmdReply {
		t.Fatalf("expected CmdReply, got %v", cmd)
	}
	if len(body) == 0 {
		t.Fatalf("expected body")
	}

	frames = ControlFrames(CmdHeartbeat, nil)
	cmd, body, err = ParseControl(frames)
	if err != nil {
		t.Fatalf("ParseControl heartbeat: %v", err)
	}
	if cmd != CmdHeartbeat || body != nil {
		t.Fatalf("unexpected heartbeat parse: %v %v", cmd, body)
	}
}

func TestParseControl_Malformed(t *testing.T) {
	t.Parallel()

	if _, _, err := ParseControl(nil); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for empty frames, got %v", err)
	}
	if _, _, err := ParseControl([][]byte{{0xFF}}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for unknown command, got %v", err)
	}
	if _, _, err := ParseControl([][]byte{[]byte("xx")}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for oversized command frame, got %v", err)
	}
}
