// internal/mcp/tool.go
package mcp

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// image is returned by tools whose primary output is binary image data. The
// bytes travel as MCP image content; meta is rendered alongside as text.
type image struct {
	data     []byte
	mimeType string
	meta     interface{}
}

// timeoutHint is implemented by tool inputs that carry their own wait budget.
type timeoutHint interface {
	requested() time.Duration
}

// seconds converts a caller supplied number of seconds into a duration.
// Non-positive values mean "use the default".
func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// deadline is the outer bound on one tool call: the command budget plus the
// longest wait the call may legitimately perform.
func (s *Server) deadline(in interface{}) time.Duration {
	wait := s.waitCeiling
	if h, ok := in.(timeoutHint); ok {
		if d := h.requested(); d > wait {
			wait = d
		}
	}
	return s.commandTimeout + wait
}

// addTool registers a handler with the SDK. Every call gets a correlation id,
// a deadline, panic recovery, metrics and uniform result rendering.
func addTool[In any](s *Server, name, description string, fn func(ctx context.Context, in In) (interface{}, error)) {
	s.toolNames = append(s.toolNames, name)
	sdk.AddTool(s.sdk, &sdk.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *sdk.CallToolRequest, in In) (*sdk.CallToolResult, any, error) {
			ctx, cancel := context.WithTimeout(ctx, s.deadline(in))
			defer cancel()
			return s.invoke(ctx, name, func(ctx context.Context) (interface{}, error) { return fn(ctx, in) }), nil, nil
		})
}

func (s *Server) invoke(ctx context.Context, name string, call func(ctx context.Context) (interface{}, error)) (res *sdk.CallToolResult) {
	callID := uuid.NewString()
	logger := s.logger.With(zap.String("tool", name), zap.String("call_id", callID))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Tool handler panicked.", zap.Any("panic_value", r), zap.String("stack", string(debug.Stack())))
			res = errorResult(schemas.NewError(schemas.ErrInternal, "tool %s failed unexpectedly: %v", name, r))
			observability.ToolCalls.WithLabelValues(name, string(schemas.ErrInternal)).Inc()
		}
		observability.ToolLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	logger.Debug("Tool call started.")
	out, err := call(ctx)
	if err != nil {
		obj := schemas.ToErrorObject(err)
		observability.ToolCalls.WithLabelValues(name, string(obj.Kind)).Inc()
		logger.Info("Tool call failed.", zap.String("kind", string(obj.Kind)), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return errorResult(err)
	}
	observability.ToolCalls.WithLabelValues(name, "ok").Inc()
	logger.Debug("Tool call finished.", zap.Duration("elapsed", time.Since(start)))
	return s.render(logger, out)
}

// render turns a handler's value into MCP content. Structured values are sent
// both as structuredContent and as their JSON text.
func (s *Server) render(logger *zap.Logger, out interface{}) *sdk.CallToolResult {
	if img, ok := out.(image); ok {
		res := &sdk.CallToolResult{Content: []sdk.Content{&sdk.ImageContent{Data: img.data, MIMEType: img.mimeType}}}
		if img.meta != nil {
			if text, err := json.MarshalToString(img.meta); err == nil {
				res.Content = append(res.Content, &sdk.TextContent{Text: text})
			}
			res.StructuredContent = img.meta
		}
		return res
	}
	text, err := json.MarshalToString(out)
	if err != nil {
		logger.Error("Failed to encode tool result.", zap.Error(err))
		return errorResult(schemas.WrapError(schemas.ErrInternal, err, "failed to encode result"))
	}
	return &sdk.CallToolResult{
		Content:           []sdk.Content{&sdk.TextContent{Text: text}},
		StructuredContent: out,
	}
}

func errorResult(err error) *sdk.CallToolResult {
	body := map[string]schemas.ErrorObject{"error": schemas.ToErrorObject(err)}
	text, mErr := json.MarshalToString(body)
	if mErr != nil {
		text = fmt.Sprintf(`{"error":{"kind":%q,"message":%q}}`, schemas.ErrInternal, err.Error())
	}
	return &sdk.CallToolResult{
		IsError:           true,
		Content:           []sdk.Content{&sdk.TextContent{Text: text}},
		StructuredContent: body,
	}
}

// invalid builds an InvalidArgument error for a tool parameter.
func invalid(format string, args ...interface{}) error {
	return schemas.NewError(schemas.ErrInvalidArgument, format, args...)
}

// required rejects empty identifier parameters before any lookup.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return invalid("%s is required", pairs[i])
		}
	}
	return nil
}
