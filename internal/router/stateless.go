// File: internal/router/stateless.go
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Stateless responses are command metadata or small result documents.
const maxStatelessResponse = 4 << 20 // 4MB

// executeStateless performs the one-shot HTTP exchange a stateless-request
// descriptor describes. No pending record is ever created: the exchange is
// its own resolution.
func (r *Router) executeStateless(ctx context.Context, descriptor protocol.CommandDescriptor, opts Options) protocol.Result {
	spec := descriptor.Stateless
	if spec == nil || spec.Endpoint == "" {
		return errorResult("", fmt.Errorf("command %q has no stateless endpoint configured", descriptor.Name))
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload := opts.Payload
		if payload == nil {
			payload = map[string]interface{}{
				"command": descriptor.Name,
				"args":    opts.Args,
			}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return errorResult("", fmt.Errorf("failed to encode request body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.Endpoint, body)
	if err != nil {
		return errorResult("", fmt.Errorf("failed to build request for %q: %w", descriptor.Name, err))
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.stateless.Do(req)
	if err != nil {
		return errorResult("", &protocol.TransportError{Op: "request", Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStatelessResponse))
	if err != nil {
		return errorResult("", &protocol.TransportError{Op: "read", Err: err})
	}
	payload := decodeResponseBody(data)

	r.log.Debug("Stateless exchange completed",
		zap.String("command", descriptor.Name),
		zap.String("endpoint", spec.Endpoint),
		zap.Int("status_code", resp.StatusCode),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("endpoint returned %s", resp.Status)
		return protocol.Result{
			Status:  protocol.ResultError,
			Payload: payload,
			Err:     err,
			Error:   err.Error(),
		}
	}
	return protocol.Result{Status: protocol.ResultSuccess, Payload: payload}
}

// decodeResponseBody favors structured payloads: valid JSON decodes into its
// natural shape, anything else is passed through as text.
func decodeResponseBody(data []byte) interface{} {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		return decoded
	}
	return string(data)
}
