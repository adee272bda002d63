// File: internal/mcp/handlers.go
package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Handlers manages the HTTP request handling for the MCP server.
type Handlers struct {
	log  *zap.Logger
	docs *DocumentService
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, docs *DocumentService) *Handlers {
	return &Handlers{
		log:  logger.Named("mcp_handlers"),
		docs: docs,
	}
}

// RegisterRoutes sets up the HTTP routes of the MCP server.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Tool-style entry point: {"command": "search"|"fetch"|"ping", "params": {...}}
		r.Post("/command", h.HandleCommand)
		r.Get("/docs/search", h.HandleSearch)
		r.Get("/docs/{id}", h.HandleFetch)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleCommand dispatches a tool call by name.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	h.log.Info("Received command", zap.String("command", req.Command))

	switch strings.ToLower(req.Command) {
	case "search":
		params, err := mapToStruct[SearchParams](req.Params)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid parameters for search: %v", err))
			return
		}
		h.respondWithSuccess(w, http.StatusOK, h.docs.Search(params.Query))
	case "fetch":
		params, err := mapToStruct[FetchParams](req.Params)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid parameters for fetch: %v", err))
			return
		}
		h.fetch(w, params.ID)
	case "ping":
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "pong"})
	default:
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

// HandleSearch runs a keyword search from the q query parameter.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, h.docs.Search(r.URL.Query().Get("q")))
}

// HandleFetch returns one document by id.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, chi.URLParam(r, "id"))
}

func (h *Handlers) fetch(w http.ResponseWriter, id string) {
	doc, err := h.docs.Fetch(id)
	if errors.Is(err, ErrUnknownDocument) {
		h.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving document.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, doc)
}

// Generic utility function to convert map[string]interface{} to a specific struct using JSON marshaling.
func mapToStruct[T any](m map[string]interface{}) (T, error) {
	var result T
	// Handle nil map gracefully
	if m == nil {
		return result, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, CommandResponse{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
