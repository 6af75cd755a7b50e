package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agendahub/internal/record/model"
	"agendahub/internal/record/service"
	"agendahub/internal/visibility"
	"agendahub/middleware"
	"agendahub/pkg/logger"
	"agendahub/store"
)

type RecordHandler struct {
	Service *service.RecordService
}

func NewRecordHandler(service *service.RecordService) *RecordHandler {
	return &RecordHandler{Service: service}
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Record not found", http.StatusNotFound)
	case errors.Is(err, store.ErrPermissionDenied):
		http.Error(w, "Forbidden: "+err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrUnknownKind),
		errors.Is(err, store.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidSlot),
		errors.Is(err, store.ErrInvalidDay),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrTemporaryID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrAttachmentsDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.Sugar.Errorf("Handler: Failed to %s: %v", action, err)
		http.Error(w, "Failed to "+action, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// request pulls the common pieces out of r. It writes the error response
// itself and reports false when the handler should stop.
func request(w http.ResponseWriter, r *http.Request, method string) (visibility.Actor, bool) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return visibility.Actor{}, false
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return visibility.Actor{}, false
	}
	return actor, true
}

func kindParam(w http.ResponseWriter, r *http.Request) (store.Kind, bool) {
	kind, err := store.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, "Missing or unknown kind parameter", http.StatusBadRequest)
		return "", false
	}
	return kind, true
}

func idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return "", false
	}
	if store.IsTemporaryID(id) {
		http.Error(w, store.ErrTemporaryID.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *RecordHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodGet)
	if !ok {
		return
	}
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	recs, err := h.Service.List(r.Context(), actor, kind, store.Filter{Status: q.Get("status"), Day: q.Get("day")})
	if err != nil {
		writeError(w, err, "list records")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodGet)
	if !ok {
		return
	}
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.Get(r.Context(), actor, kind, id)
	if err != nil {
		writeError(w, err, "get record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPost)
	if !ok {
		return
	}
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	var req model.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.Service.Create(r.Context(), actor, kind, req)
	if err != nil {
		writeError(w, err, "create record")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *RecordHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPut)
	if !ok {
		return
	}
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var patch store.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.Service.Update(r.Context(), actor, kind, id, patch)
	if err != nil {
		writeError(w, err, "update record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodDelete)
	if !ok {
		return
	}
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), actor, kind, id); err != nil {
		writeError(w, err, "delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParentID == "" {
		http.Error(w, "Parent ID is required", http.StatusBadRequest)
		return
	}

	msg, err := h.Service.AddMessage(r.Context(), actor, req)
	if err != nil {
		writeError(w, err, "add message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *RecordHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodGet)
	if !ok {
		return
	}
	parentID := r.URL.Query().Get("parentId")
	if parentID == "" {
		http.Error(w, "Missing parentId parameter", http.StatusBadRequest)
		return
	}

	msgs, err := h.Service.ListMessages(r.Context(), actor, parentID)
	if err != nil {
		writeError(w, err, "list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *RecordHandler) NextSlot(w http.ResponseWriter, r *http.Request) {
	if _, ok := request(w, r, http.MethodGet); !ok {
		return
	}
	day := r.URL.Query().Get("day")

	slot, err := h.Service.NextSlot(r.Context(), day)
	if err != nil {
		writeError(w, err, "find next slot")
		return
	}
	writeJSON(w, http.StatusOK, model.NextSlotResponse{Day: day, Slot: slot})
}

func (h *RecordHandler) ScheduleEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.ScheduleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.ScheduleEvent(r.Context(), actor, req)
	if err != nil {
		writeError(w, err, "schedule event")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *RecordHandler) MoveEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPut)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req model.MoveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.MoveEvent(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, err, "move event")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RecordHandler) PresignAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := request(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParentID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	up, err := h.Service.PresignAttachment(r.Context(), actor, req)
	if err != nil {
		writeError(w, err, "presign attachment")
		return
	}
	writeJSON(w, http.StatusOK, up)
}
