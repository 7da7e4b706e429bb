// Package http exposes the services as JSON procedures under /rpc and
// receives identity-provider webhooks.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

const maxBodyBytes = 1 << 20

// Error codes sent in the error envelope.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_SUPPORTED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

type (
	resultEnvelope struct {
		Result resultBody `json:"result"`
	}
	resultBody struct {
		Data any `json:"data"`
	}

	errorEnvelope struct {
		Error errorBody `json:"error"`
	}
	errorBody struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	}
)

// procedure is one RPC endpoint. Queries are served on GET, mutations on POST.
type procedure struct {
	method string
	call   func(ctx context.Context, input json.RawMessage) (any, error)
}

func query(fn func(ctx context.Context, input json.RawMessage) (any, error)) procedure {
	return procedure{method: http.MethodGet, call: fn}
}

func mutation(fn func(ctx context.Context, input json.RawMessage) (any, error)) procedure {
	return procedure{method: http.MethodPost, call: fn}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["procedure"]
	p, ok := s.procedures[name]
	if !ok {
		writeError(w, http.StatusNotFound, errorBody{Code: CodeNotFound, Message: "No procedure found on path " + name})
		return
	}
	if r.Method != p.method {
		w.Header().Set("Allow", p.method)
		writeError(w, http.StatusMethodNotAllowed, errorBody{Code: CodeMethodNotAllowed, Message: "Use " + p.method + " for " + name})
		return
	}

	input, err := readInput(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "Invalid JSON input"})
		return
	}

	data, err := p.call(r.Context(), input)
	if err != nil {
		s.writeServiceError(r.Context(), w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, resultEnvelope{Result: resultBody{Data: data}})
}

// readInput returns the raw JSON input: the "input" query parameter for GET
// and the body for POST. Missing input is returned as nil.
func readInput(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	var raw []byte
	if r.Method == http.MethodGet {
		raw = []byte(r.URL.Query().Get("input"))
	} else {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid json")
	}
	return raw, nil
}

// decodeInput unmarshals input into dst. Unknown fields are ignored so
// clients may keep sending a legacy userId. Empty input leaves dst zero.
func decodeInput(input json.RawMessage, dst any) error {
	if len(input) == 0 || string(input) == "null" {
		return nil
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return core.Validation(map[string]string{"input": "Invalid input"})
	}
	return nil
}

func (s *Server) writeServiceError(ctx context.Context, w http.ResponseWriter, name string, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = core.Internal("Internal server error", err)
	}

	switch ce.Kind {
	case core.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, errorBody{Code: CodeUnauthorized, Message: ce.Message})
	case core.KindNotFound:
		writeError(w, http.StatusNotFound, errorBody{Code: CodeNotFound, Message: ce.Message})
	case core.KindValidation:
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: ce.Message, Fields: ce.Fields})
	default:
		log.NewStructuredLogger(log.FromContext(ctx).WithComponent(log.ComponentRPC)).
			LogError(ctx, "Procedure failed", err, log.ErrorTypeInternal, name,
				log.LogFields{log.FieldProcedure: name})
		writeError(w, http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: ce.Message})
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
