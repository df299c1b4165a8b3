// internal/mcp/tools_events.go
package mcp

import (
	"context"
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/events"
)

const defaultEventLimit = 100

// -- Event Inputs --

type eventLogsInput struct {
	TabID         string `json:"tab_id" jsonschema:"tab identifier"`
	Category      string `json:"category,omitempty" jsonschema:"page, network, runtime or dom; all when omitted"`
	SinceSequence uint64 `json:"since_sequence,omitempty" jsonschema:"only entries with a larger sequence number"`
	EventType     string `json:"event_type,omitempty" jsonschema:"case-insensitive substring of the CDP event name"`
	Limit         int    `json:"limit,omitempty" jsonschema:"most recent entries to return (default 100)"`
}

type waitEventInput struct {
	TabID         string  `json:"tab_id" jsonschema:"tab identifier"`
	Category      string  `json:"category,omitempty" jsonschema:"page, network, runtime or dom"`
	EventType     string  `json:"event_type" jsonschema:"case-insensitive substring of the CDP event name, e.g. loadEventFired"`
	SinceSequence uint64  `json:"since_sequence,omitempty" jsonschema:"ignore entries at or below this sequence number"`
	Timeout       float64 `json:"timeout,omitempty" jsonschema:"seconds to wait"`
}

func (in waitEventInput) requested() time.Duration { return seconds(in.Timeout) }

type fetchEventsInput struct {
	TabID    string   `json:"tab_id" jsonschema:"tab identifier"`
	Patterns []string `json:"patterns,omitempty" jsonschema:"URL patterns to pause (wildcards * and ?); every request when omitted"`
}

func (s *Server) registerEventTools() {
	addTool(s, "get_event_logs", "Read captured CDP events of a tab in sequence order.",
		func(ctx context.Context, in eventLogsInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			cat, err := schemas.ParseCategory(in.Category)
			if err != nil {
				return nil, err
			}
			if in.Limit < 0 {
				return nil, invalid("limit must not be negative")
			}
			limit := in.Limit
			if limit == 0 {
				limit = defaultEventLimit
			}
			if _, err := s.reg.Tab(in.TabID); err != nil {
				return nil, err
			}
			entries, err := s.pipe.Entries(in.TabID, events.Query{
				Category:   cat,
				SinceSeq:   in.SinceSequence,
				MethodLike: in.EventType,
				Limit:      limit,
			})
			if err != nil {
				return nil, err
			}
			if entries == nil {
				entries = []schemas.EventEntry{}
			}
			return map[string]interface{}{"tab_id": in.TabID, "events": entries, "count": len(entries)}, nil
		})

	addTool(s, "wait_for_event", "Wait for a CDP event on a tab. Already captured events count.",
		func(ctx context.Context, in waitEventInput) (interface{}, error) {
			if err := required("tab_id", in.TabID, "event_type", in.EventType); err != nil {
				return nil, err
			}
			cat, err := schemas.ParseCategory(in.Category)
			if err != nil {
				return nil, err
			}
			if _, err := s.reg.RunningTab(in.TabID); err != nil {
				return nil, err
			}
			timeout := seconds(in.Timeout)
			if timeout == 0 {
				timeout = s.cfg.Interaction().DefaultTimeout
			}
			q := events.Query{Category: cat, SinceSeq: in.SinceSequence, MethodLike: in.EventType}
			return s.pipe.WaitFor(ctx, in.TabID, timeout, schemas.ReasonWaitTimeout, q.Match)
		})

	categories := []struct {
		name string
		cat  schemas.EventCategory
		desc string
	}{
		{"enable_page_events", schemas.CategoryPage, "Capture page lifecycle and navigation events."},
		{"enable_network_events", schemas.CategoryNetwork, "Capture network request and response events."},
		{"enable_dom_events", schemas.CategoryDOM, "Capture DOM mutation events."},
		{"enable_runtime_events", schemas.CategoryRuntime, "Capture console messages and uncaught exceptions."},
	}
	for _, c := range categories {
		c := c
		addTool(s, c.name, c.desc, func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			tab, err := s.reg.RunningTab(in.TabID)
			if err != nil {
				return nil, err
			}
			if err := s.pipe.Enable(ctx, tab, c.cat); err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "category": c.cat, "enabled": true}, nil
		})
	}

	addTool(s, "enable_fetch_events", "Pause matching requests so they can be continued, failed or fulfilled.",
		func(ctx context.Context, in fetchEventsInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			if err := s.ctrl.Enable(ctx, in.TabID, in.Patterns); err != nil {
				return nil, err
			}
			patterns := in.Patterns
			if len(patterns) == 0 {
				patterns = []string{"*"}
			}
			return map[string]interface{}{"tab_id": in.TabID, "patterns": patterns, "enabled": true}, nil
		})

	addTool(s, "disable_fetch_events", "Stop pausing requests. Pending requests are released unmodified.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			n, err := s.ctrl.Disable(ctx, in.TabID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tab_id": in.TabID, "released_requests": n}, nil
		})

	addTool(s, "disable_all_events", "Stop network, runtime and fetch capture on a tab. Page and DOM tracking stay on.",
		func(ctx context.Context, in tabInput) (interface{}, error) {
			if err := required("tab_id", in.TabID); err != nil {
				return nil, err
			}
			tab, err := s.reg.RunningTab(in.TabID)
			if err != nil {
				return nil, err
			}
			disabled, err := s.pipe.DisableAll(ctx, tab)
			if err != nil {
				return nil, err
			}
			released := 0
			if tab.DomainEnabled(events.DomainFetch) {
				if released, err = s.ctrl.Disable(ctx, in.TabID); err != nil {
					return nil, err
				}
				disabled = append(disabled, events.DomainFetch)
			}
			if disabled == nil {
				disabled = []string{}
			}
			return map[string]interface{}{"tab_id": in.TabID, "disabled": disabled, "released_requests": released}, nil
		})
}
