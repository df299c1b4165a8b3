// api/schemas/events.go
package schemas

import "time"

// EventCategory groups captured CDP events.
type EventCategory string

const (
	CategoryPage    EventCategory = "page"
	CategoryNetwork EventCategory = "network"
	CategoryRuntime EventCategory = "runtime"
	CategoryDOM     EventCategory = "dom"
)

// Categories lists every category in a stable order.
var Categories = []EventCategory{CategoryPage, CategoryNetwork, CategoryRuntime, CategoryDOM}

// ParseCategory validates an optional category filter. The empty string means "all".
func ParseCategory(s string) (EventCategory, error) {
	if s == "" {
		return "", nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", NewError(ErrInvalidArgument, "unknown event category %q", s)
}

// EventEntry is one captured protocol event in a tab's log.
type EventEntry struct {
	Seq       uint64                 `json:"seq"`
	Category  EventCategory          `json:"category"`
	TabID     string                 `json:"tab_id"`
	Timestamp time.Time              `json:"timestamp"`
	Method    string                 `json:"method"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// String returns a payload field as a string, or "" if absent.
func (e EventEntry) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// -- Interception Schemas --

// InterceptedRequest is the captured metadata of a paused request.
type InterceptedRequest struct {
	RequestID    string            `json:"request_id"`
	TabID        string            `json:"tab_id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	HasPostData  bool              `json:"has_post_data"`
	PausedAt     time.Time         `json:"paused_at"`
}

// Disposition records how a paused request was resolved.
type Disposition string

const (
	DispositionContinued     Disposition = "continued"
	DispositionFailed        Disposition = "failed"
	DispositionFulfilled     Disposition = "fulfilled"
	DispositionAutoContinued Disposition = "auto_continued"
	DispositionReleased      Disposition = "released"
)

// Cookie is the tool-facing cookie shape for set/get.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
}

// NetworkRequest folds the network events sharing one request id.
type NetworkRequest struct {
	RequestID         string            `json:"request_id"`
	URL               string            `json:"url"`
	Method            string            `json:"method,omitempty"`
	ResourceType      string            `json:"resource_type,omitempty"`
	Status            int64             `json:"status,omitempty"`
	StatusText        string            `json:"status_text,omitempty"`
	MIMEType          string            `json:"mime_type,omitempty"`
	RequestHeaders    map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders   map[string]string `json:"response_headers,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Finished          bool              `json:"finished"`
	Failed            bool              `json:"failed,omitempty"`
	ErrorText         string            `json:"error_text,omitempty"`
	EncodedDataLength float64           `json:"encoded_data_length,omitempty"`
}

// ResponseBody is a captured response body. Non-UTF-8 bodies are base64.
type ResponseBody struct {
	RequestID     string `json:"request_id"`
	Body          string `json:"body"`
	Base64Encoded bool   `json:"base64_encoded"`
}

// FetchResponse is the result of a request issued from the page.
type FetchResponse struct {
	StatusCode int               `json:"status_code"`
	StatusText string            `json:"status_text,omitempty"`
	Headers    map[string]string `json:"headers"`
	Text       string            `json:"text"`
	URL        string            `json:"url"`
}
