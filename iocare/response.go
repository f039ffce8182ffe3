package iocare

import (
	"encoding/json"
	"fmt"
)

// Response is the outcome of one call. Transport and API failures are recorded in Err
// with nil Data, callers treat that as "cannot determine state".
type Response struct {
	Endpoint Endpoint
	Status   int
	Data     json.RawMessage
	Err      error
}

// OK reports whether the call produced data
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && len(r.Data) > 0
}

// Decode unmarshals Data into v
func (r *Response) Decode(v interface{}) error {
	if !r.OK() {
		if r == nil || r.Err == nil {
			return ErrNoData
		}
		return r.Err
	}
	return json.Unmarshal(r.Data, v)
}

// StatusError is a non-2xx answer
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("iocare: http status %d: %s", e.Status, e.Body)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError is the error object the API returns inside a 2xx body
type APIError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

func (e *APIError) present() bool {
	return e.Code != nil || e.Message != ""
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iocare: api error %v: %s", e.Code, e.Message)
}
