// Package api exposes the REST surface of the whiteboard server: canvas
// read/write, savepoint management and session metadata. Socket-connected
// participants are notified of every REST-origin write through the hub.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
	"github.com/kristofsajdak/claude-whiteboard/pkg/hub"
	"github.com/kristofsajdak/claude-whiteboard/pkg/render"
	"github.com/kristofsajdak/claude-whiteboard/pkg/store"
	"github.com/kristofsajdak/claude-whiteboard/pkg/viz"
)

// Handler bundles the store and hub behind the REST routes.
type Handler struct {
	store *store.Store
	hub   *hub.Hub
}

// NewRouter builds the full route table, including the websocket endpoint
// and the request-logging middleware.
func NewRouter(st *store.Store, h *hub.Hub) *mux.Router {
	a := &Handler{store: st, hub: h}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(a.health)
	r.Methods(http.MethodGet).Path("/api/canvas").HandlerFunc(a.getCanvas)
	r.Methods(http.MethodPut).Path("/api/canvas").HandlerFunc(a.putCanvas)
	r.Methods(http.MethodGet).Path("/api/canvas/render").HandlerFunc(a.renderCanvas)
	r.Methods(http.MethodGet).Path("/api/savepoints").HandlerFunc(a.listSavepoints)
	r.Methods(http.MethodPost).Path("/api/savepoints").HandlerFunc(a.createSavepoint)
	r.Methods(http.MethodGet).Path("/api/savepoints/graph").HandlerFunc(a.savepointGraph)
	r.Methods(http.MethodPost).Path("/api/savepoints/{name}").HandlerFunc(a.restoreSavepoint)
	r.Methods(http.MethodGet).Path("/api/session").HandlerFunc(a.getSession)
	r.Path("/ws").Handler(h)
	return r
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}

func (a *Handler) health(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Handler) getCanvas(writer http.ResponseWriter, request *http.Request) {
	doc, err := a.store.Document(request.Context())
	if err != nil {
		slog.Error("failed to get canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to get canvas")
		return
	}
	writeJSON(writer, http.StatusOK, doc)
}

func (a *Handler) putCanvas(writer http.ResponseWriter, request *http.Request) {
	var doc canvas.Document
	if err := json.NewDecoder(request.Body).Decode(&doc); err != nil {
		slog.Error("failed to decode body", "err", err)
		writeError(writer, http.StatusBadRequest, "invalid canvas payload")
		return
	}
	if doc.Elements == nil {
		doc.Elements = []canvas.Element{}
	}
	if err := a.hub.PublishExternal(request.Context(), doc); err != nil {
		slog.Error("failed to update canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to update canvas")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]bool{"success": true})
}

func (a *Handler) renderCanvas(writer http.ResponseWriter, request *http.Request) {
	doc, err := a.store.Document(request.Context())
	if err != nil {
		slog.Error("failed to get canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to get canvas")
		return
	}
	png, err := render.ToPNG(doc)
	if err != nil {
		slog.Error("failed to render canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to render canvas")
		return
	}
	writer.Header().Set("Content-Type", "image/png")
	if _, err := writer.Write(png); err != nil {
		slog.Error("failed to write image", "err", err)
	}
}

func (a *Handler) listSavepoints(writer http.ResponseWriter, request *http.Request) {
	savepoints, err := a.store.ListSavepoints(request.Context())
	if err != nil {
		slog.Error("failed to list savepoints", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to list savepoints")
		return
	}
	writeJSON(writer, http.StatusOK, savepoints)
}

func (a *Handler) createSavepoint(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		slog.Error("failed to decode body", "err", err)
		writeError(writer, http.StatusBadRequest, "invalid savepoint payload")
		return
	}
	if body.Name == "" {
		writeError(writer, http.StatusBadRequest, "name is required")
		return
	}
	if err := a.store.CreateSavepoint(request.Context(), body.Name); err != nil {
		if errors.Is(err, store.ErrDuplicateSavepoint) {
			writeError(writer, http.StatusConflict, "savepoint already exists")
			return
		}
		slog.Error("failed to create savepoint", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to create savepoint")
		return
	}
	writeJSON(writer, http.StatusCreated, map[string]bool{"success": true})
}

func (a *Handler) savepointGraph(writer http.ResponseWriter, request *http.Request) {
	savepoints, err := a.store.ListSavepoints(request.Context())
	if err != nil {
		slog.Error("failed to list savepoints", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to list savepoints")
		return
	}
	doc, err := a.store.Document(request.Context())
	if err != nil {
		slog.Error("failed to get canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to get canvas")
		return
	}
	svg, err := viz.RenderHistoryToSvg(a.store.SessionName(), savepoints, doc)
	if err != nil {
		slog.Error("failed to render history", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to render history")
		return
	}
	writer.Header().Set("Content-Type", "image/svg+xml")
	if _, err := writer.Write(svg); err != nil {
		slog.Error("failed to write image", "err", err)
	}
}

func (a *Handler) restoreSavepoint(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)["name"]
	if err := a.store.Restore(request.Context(), name); err != nil {
		if errors.Is(err, store.ErrSavepointNotFound) {
			writeError(writer, http.StatusNotFound, "savepoint not found")
			return
		}
		slog.Error("failed to restore savepoint", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to restore savepoint")
		return
	}
	doc, err := a.store.Document(request.Context())
	if err != nil {
		slog.Error("failed to read restored canvas", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to read restored canvas")
		return
	}
	if err := a.hub.BroadcastDocument(doc); err != nil {
		slog.Error("failed to broadcast restored canvas", "err", err)
	}
	writeJSON(writer, http.StatusOK, map[string]bool{"success": true})
}

func (a *Handler) getSession(writer http.ResponseWriter, request *http.Request) {
	session, err := a.store.Session(request.Context())
	if err != nil {
		slog.Error("failed to get session", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to get session")
		return
	}
	writeJSON(writer, http.StatusOK, session)
}
