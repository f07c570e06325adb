package protocol

import (
	"time"

	"github.com/tacoreio/tacore/pkg/core"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Well-known error strings surfaced in error Responses. Business handler
// errors carry their own message; these cover the broker/client paths.
const (
	ErrorWorkerTimeout  = "WorkerTimeout"
	ErrorOverloaded     = "Overloaded"
	ErrorRequestTimeout = "RequestTimeout"
)

// Request is a business call routed through the broker. A retry reuses the
// same RequestID so downstream consumers can detect duplicates; the broker
// itself does not deduplicate.
type Request struct {
	RequestID string                 `json:"request_id"`
	Method    string                 `json:"method"`
	Params    map[string]interface{} `json:"params"`
	Timestamp float64                `json:"timestamp"`
}

// Response correlates 1:1 with a Request by RequestID.
type Response struct {
	Status       string                 `json:"status"`
	Data         map[string]interface{} `json:"data"`
	Error        string                 `json:"error,omitempty"`
	RequestID    string                 `json:"request_id"`
	Timestamp    float64                `json:"timestamp"`
	ResponseTime float64                `json:"response_time"`
}

// IsSuccess reports whether the response carries a success status.
func (r *Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// NewRequest creates a Request with a fresh ID and the current timestamp.
func NewRequest(method string, params map[string]interface{}) *Request {
	if params == nil {
		params = map[string]interface{}{}
	}
	return &Request{
		RequestID: core.GenerateRequestID(),
		Method:    method,
		Params:    params,
		Timestamp: Now(),
	}
}

// NewSuccessResponse creates a success Response for the given request ID.
func NewSuccessResponse(requestID string, data map[string]interface{}) *Response {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Response{
		Status:    StatusSuccess,
		Data:      data,
		RequestID: requestID,
		Timestamp: Now(),
	}
}

// NewErrorResponse creates an error Response for the given request ID.
func NewErrorResponse(requestID, errMsg string) *Response {
	return &Response{
		Status:    StatusError,
		Error:     errMsg,
		RequestID: requestID,
		Timestamp: Now(),
	}
}

// Now returns the wall clock as seconds since the Unix epoch, the timestamp
// format used on the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
