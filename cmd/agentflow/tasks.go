package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"goa.design/clue/log"

	"goa.design/agentflow/example/research"
	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/message"
)

const maxBodySize = 1 << 20

// taskHandler exposes the research workflow over HTTP. Handles of tasks
// started by this process are kept so queries can be signaled to them.
type taskHandler struct {
	eng      engine.Engine
	messages *message.Service
	queue    string

	mu      sync.Mutex
	handles map[string]engine.WorkflowHandle
}

func newTaskHandler(eng engine.Engine, messages *message.Service, queue string) *taskHandler {
	return &taskHandler{
		eng:      eng,
		messages: messages,
		queue:    queue,
		handles:  make(map[string]engine.WorkflowHandle),
	}
}

func (h *taskHandler) mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks/{id}", h.start)
	mux.HandleFunc("GET /tasks/{id}", h.status)
	mux.HandleFunc("POST /tasks/{id}/queries", h.query)
	mux.HandleFunc("GET /tasks/{id}/messages", h.list)
}

// start starts a research workflow. The optional body is a state machine
// snapshot to resume from.
func (h *taskHandler) start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var params json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			writeError(w, r, http.StatusBadRequest, errors.New("body must be a JSON snapshot"))
			return
		}
		params = body
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handles[id]; ok {
		writeError(w, r, http.StatusConflict, errors.New("task already started"))
		return
	}
	handle, err := h.eng.StartWorkflow(r.Context(), engine.WorkflowStartRequest{
		ID:        id,
		Workflow:  research.WorkflowName,
		TaskQueue: h.queue,
		Input:     &engine.WorkflowInput{TaskID: id, Params: params},
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.handles[id] = handle
	writeJSON(w, r, http.StatusCreated, map[string]string{"task_id": id})
}

func (h *taskHandler) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.eng.QueryRunStatus(r.Context(), id)
	if errors.Is(err, engine.ErrWorkflowNotFound) {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"task_id": id, "status": string(st)})
}

func (h *taskHandler) query(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var q research.Query
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&q); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.mu.Lock()
	handle, ok := h.handles[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, r, http.StatusNotFound, engine.ErrWorkflowNotFound)
		return
	}
	if err := handle.Signal(r.Context(), research.SignalQuery, q); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *taskHandler) list(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.messages.List(r.Context(), message.ListRequest{Scope: dispatch.Scope{TaskID: r.PathValue("id")}})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		writeJSON(w, r, http.StatusOK, []any{})
		return
	}
	writeJSON(w, r, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(r.Context(), err, log.KV{K: "msg", V: "encode response"})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), err, log.KV{K: "path", V: r.URL.Path})
	}
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
