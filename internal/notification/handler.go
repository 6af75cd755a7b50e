package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"agendahub/internal/notification/service"
	"agendahub/middleware"
	"agendahub/pkg/logger"
	"agendahub/store"
)

type NotificationHandler struct {
	Service *service.NotificationService
}

func NewNotificationHandler(service *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{Service: service}
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	list, err := h.Service.List(r.Context(), actor, r.URL.Query().Get("unread") == "true")
	if err != nil {
		logger.Sugar.Errorf("Error fetching notifications: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Service.MarkRead(r.Context(), actor, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		logger.Sugar.Errorf("Handler: Failed to mark notification %s read: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Notification marked as read"))
}
