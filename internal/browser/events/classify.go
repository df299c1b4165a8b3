// internal/browser/events/classify.go
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// Method names of the events the pipeline reacts to.
const (
	MethodFrameNavigated          = "Page.frameNavigated"
	MethodNavigatedWithinDocument = "Page.navigatedWithinDocument"
	MethodLoadEventFired          = "Page.loadEventFired"
	MethodDOMContentEventFired    = "Page.domContentEventFired"
	MethodLifecycleEvent          = "Page.lifecycleEvent"
	MethodDialogOpening           = "Page.javascriptDialogOpening"
	MethodDialogClosed            = "Page.javascriptDialogClosed"
	MethodRequestWillBeSent       = "Network.requestWillBeSent"
	MethodResponseReceived        = "Network.responseReceived"
	MethodLoadingFinished         = "Network.loadingFinished"
	MethodLoadingFailed           = "Network.loadingFailed"
	MethodRequestPaused           = "Fetch.requestPaused"
	MethodDocumentUpdated         = "DOM.documentUpdated"
	MethodChildNodeRemoved        = "DOM.childNodeRemoved"
)

// classified is the log form of one protocol event.
type classified struct {
	category schemas.EventCategory
	method   string
	payload  map[string]interface{}
}

// classify maps a decoded protocol event to its log entry. Events outside the
// four categories report ok=false and are not logged.
func classify(ev interface{}) (c classified, ok bool) {
	switch e := ev.(type) {
	// -- Page --
	case *page.EventFrameNavigated:
		p := map[string]interface{}{"type": string(e.Type)}
		if e.Frame != nil {
			p["frame_id"] = string(e.Frame.ID)
			p["parent_id"] = string(e.Frame.ParentID)
			p["loader_id"] = string(e.Frame.LoaderID)
			p["url"] = e.Frame.URL + e.Frame.URLFragment
			p["main_frame"] = e.Frame.ParentID == ""
		}
		return classified{schemas.CategoryPage, MethodFrameNavigated, p}, true
	case *page.EventNavigatedWithinDocument:
		return classified{schemas.CategoryPage, MethodNavigatedWithinDocument, map[string]interface{}{
			"frame_id": string(e.FrameID),
			"url":      e.URL,
		}}, true
	case *page.EventLoadEventFired:
		return classified{schemas.CategoryPage, MethodLoadEventFired, map[string]interface{}{}}, true
	case *page.EventDomContentEventFired:
		return classified{schemas.CategoryPage, MethodDOMContentEventFired, map[string]interface{}{}}, true
	case *page.EventLifecycleEvent:
		return classified{schemas.CategoryPage, MethodLifecycleEvent, map[string]interface{}{
			"frame_id":  string(e.FrameID),
			"loader_id": string(e.LoaderID),
			"name":      e.Name,
		}}, true
	case *page.EventJavascriptDialogOpening:
		return classified{schemas.CategoryPage, MethodDialogOpening, map[string]interface{}{
			"url":            e.URL,
			"message":        e.Message,
			"type":           string(e.Type),
			"default_prompt": e.DefaultPrompt,
		}}, true
	case *page.EventJavascriptDialogClosed:
		return classified{schemas.CategoryPage, MethodDialogClosed, map[string]interface{}{
			"result":     e.Result,
			"user_input": e.UserInput,
		}}, true
	case *page.EventFrameStartedLoading:
		return classified{schemas.CategoryPage, "Page.frameStartedLoading", map[string]interface{}{"frame_id": string(e.FrameID)}}, true
	case *page.EventFrameStoppedLoading:
		return classified{schemas.CategoryPage, "Page.frameStoppedLoading", map[string]interface{}{"frame_id": string(e.FrameID)}}, true
	case *page.EventWindowOpen:
		return classified{schemas.CategoryPage, "Page.windowOpen", map[string]interface{}{
			"url":          e.URL,
			"window_name":  e.WindowName,
			"user_gesture": e.UserGesture,
		}}, true

	// -- Network --
	case *network.EventRequestWillBeSent:
		p := map[string]interface{}{
			"request_id":    string(e.RequestID),
			"resource_type": string(e.Type),
			"document_url":  e.DocumentURL,
		}
		if e.Request != nil {
			p["url"] = e.Request.URL
			p["method"] = e.Request.Method
			p["headers"] = flattenHeaders(e.Request.Headers)
		}
		return classified{schemas.CategoryNetwork, MethodRequestWillBeSent, p}, true
	case *network.EventResponseReceived:
		p := map[string]interface{}{
			"request_id":    string(e.RequestID),
			"resource_type": string(e.Type),
		}
		if e.Response != nil {
			p["url"] = e.Response.URL
			p["status"] = e.Response.Status
			p["status_text"] = e.Response.StatusText
			p["mime_type"] = e.Response.MimeType
			p["headers"] = flattenHeaders(e.Response.Headers)
		}
		return classified{schemas.CategoryNetwork, MethodResponseReceived, p}, true
	case *network.EventLoadingFinished:
		return classified{schemas.CategoryNetwork, MethodLoadingFinished, map[string]interface{}{
			"request_id":          string(e.RequestID),
			"encoded_data_length": e.EncodedDataLength,
		}}, true
	case *network.EventLoadingFailed:
		return classified{schemas.CategoryNetwork, MethodLoadingFailed, map[string]interface{}{
			"request_id":    string(e.RequestID),
			"resource_type": string(e.Type),
			"error_text":    e.ErrorText,
			"canceled":      e.Canceled,
		}}, true
	case *fetch.EventRequestPaused:
		p := map[string]interface{}{
			"request_id":    string(e.RequestID),
			"resource_type": string(e.ResourceType),
		}
		if e.Request != nil {
			p["url"] = e.Request.URL
			p["method"] = e.Request.Method
		}
		return classified{schemas.CategoryNetwork, MethodRequestPaused, p}, true

	// -- Runtime --
	case *runtime.EventConsoleAPICalled:
		args := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			args = append(args, remoteObjectText(a))
		}
		return classified{schemas.CategoryRuntime, "Runtime.consoleAPICalled", map[string]interface{}{
			"type":    string(e.Type),
			"message": strings.Join(args, " "),
		}}, true
	case *runtime.EventExceptionThrown:
		p := map[string]interface{}{}
		if d := e.ExceptionDetails; d != nil {
			p["text"] = d.Text
			p["url"] = d.URL
			p["line"] = d.LineNumber
			p["column"] = d.ColumnNumber
			if d.Exception != nil {
				p["description"] = d.Exception.Description
			}
		}
		return classified{schemas.CategoryRuntime, "Runtime.exceptionThrown", p}, true
	case *cdplog.EventEntryAdded:
		p := map[string]interface{}{}
		if e.Entry != nil {
			p["source"] = string(e.Entry.Source)
			p["level"] = string(e.Entry.Level)
			p["message"] = e.Entry.Text
			p["url"] = e.Entry.URL
		}
		return classified{schemas.CategoryRuntime, "Log.entryAdded", p}, true

	// -- DOM --
	case *dom.EventDocumentUpdated:
		return classified{schemas.CategoryDOM, MethodDocumentUpdated, map[string]interface{}{}}, true
	case *dom.EventChildNodeInserted:
		p := map[string]interface{}{
			"parent_node_id":   int64(e.ParentNodeID),
			"previous_node_id": int64(e.PreviousNodeID),
		}
		if e.Node != nil {
			p["node_name"] = e.Node.NodeName
			p["backend_node_id"] = int64(e.Node.BackendNodeID)
		}
		return classified{schemas.CategoryDOM, "DOM.childNodeInserted", p}, true
	case *dom.EventChildNodeRemoved:
		return classified{schemas.CategoryDOM, MethodChildNodeRemoved, map[string]interface{}{
			"parent_node_id": int64(e.ParentNodeID),
			"node_id":        int64(e.NodeID),
		}}, true
	case *dom.EventAttributeModified:
		return classified{schemas.CategoryDOM, "DOM.attributeModified", map[string]interface{}{
			"node_id": int64(e.NodeID),
			"name":    e.Name,
			"value":   e.Value,
		}}, true
	case *dom.EventAttributeRemoved:
		return classified{schemas.CategoryDOM, "DOM.attributeRemoved", map[string]interface{}{
			"node_id": int64(e.NodeID),
			"name":    e.Name,
		}}, true
	case *dom.EventCharacterDataModified:
		return classified{schemas.CategoryDOM, "DOM.characterDataModified", map[string]interface{}{
			"node_id":        int64(e.NodeID),
			"character_data": e.CharacterData,
		}}, true
	}
	return classified{}, false
}

// flattenHeaders renders header values as strings.
func flattenHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// remoteObjectText renders a console argument the way a console would.
func remoteObjectText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		var v interface{}
		if err := json.Unmarshal([]byte(o.Value), &v); err == nil {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return string(o.Value)
	}
	if o.Description != "" {
		return o.Description
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	return string(o.Type)
}

func matchMethod(method, like string) bool {
	if like == "" {
		return true
	}
	return strings.Contains(strings.ToLower(method), strings.ToLower(like))
}
