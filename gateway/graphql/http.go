package graphql

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/libraria/libraria/errors"
)

// maxRequestBody bounds a single request document.
const maxRequestBody = 1 << 20 // 1 MiB

// gqlRequest is a single GraphQL operation as carried on the wire, by
// both the HTTP transport and the subscribe frames of the subscription
// transport.
type gqlRequest struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// variables decodes the raw variables object, tolerating absent or null.
func (r *gqlRequest) variables() (map[string]any, error) {
	if len(r.Variables) == 0 || string(r.Variables) == "null" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(r.Variables, &vars); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "parseRequest", "variables decode")
	}
	return vars, nil
}

// parseRequest extracts the GraphQL operation from an HTTP request.
// POST carries an application/json body; GET carries query parameters
// with JSON-encoded variables.
func parseRequest(r *http.Request) (*gqlRequest, error) {
	switch r.Method {
	case http.MethodPost:
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			return nil, errors.WrapInvalid(errors.ErrUnsupportedOperation,
				"Gateway", "parseRequest", "unsupported content type")
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, errors.WrapTransport(err, "Gateway", "parseRequest", "body read")
		}
		var req gqlRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "parseRequest", "body decode")
		}
		return &req, nil

	case http.MethodGet:
		params := r.URL.Query()
		req := gqlRequest{
			Query:         params.Get("query"),
			OperationName: params.Get("operationName"),
		}
		if raw := params.Get("variables"); raw != "" {
			req.Variables = json.RawMessage(raw)
		}
		return &req, nil

	default:
		return nil, errors.WrapInvalid(errors.ErrUnsupportedOperation,
			"Gateway", "parseRequest", "unsupported method "+r.Method)
	}
}

// wireError is the GraphQL wire shape for transport-level failures that
// never reached the executor.
type wireError struct {
	Message string `json:"message"`
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []wireError{{Message: message}},
	})
}

// serveOperation executes a single request/response operation: parse,
// build the execution context, execute against the shared schema and
// marshal the response. Subscription documents are rejected here; the
// executor reports them as errors because no Exec channel exists.
func (s *Server) serveOperation(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		s.metrics.ObserveRequest(transportHTTP, outcomeRejected)
		writeErrorResponse(w, http.StatusBadRequest, publicParseMessage(err))
		return
	}
	if req.Query == "" {
		s.metrics.ObserveRequest(transportHTTP, outcomeRejected)
		writeErrorResponse(w, http.StatusBadRequest, "query is required")
		return
	}

	vars, err := req.variables()
	if err != nil {
		s.metrics.ObserveRequest(transportHTTP, outcomeRejected)
		writeErrorResponse(w, http.StatusBadRequest, "variables must be a JSON object")
		return
	}

	ctx, cancel := context.WithTimeout(s.contexts.forRequest(r), s.config.RequestTimeout())
	defer cancel()

	response := s.schema.Exec(ctx, req.Query, req.OperationName, vars)

	outcome := outcomeOK
	if len(response.Errors) > 0 {
		outcome = outcomeError
	}
	s.metrics.ObserveRequest(transportHTTP, outcome)

	payload, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("response marshal failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.logger.Debug("response write failed", "remote", r.RemoteAddr, "error", err)
	}
}

// publicParseMessage renders a parse failure for the caller without
// echoing wrapped internals.
func publicParseMessage(err error) string {
	if errors.Is(err, errors.ErrUnsupportedOperation) {
		return "unsupported method or content type"
	}
	return "malformed request body"
}
