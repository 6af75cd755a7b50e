package router

import (
	"database/sql"
	"net/http"

	"agendahub/config"
	"agendahub/internal/actor"
	"agendahub/internal/fanout"
	notificationHandler "agendahub/internal/notification"
	notificationRepository "agendahub/internal/notification/repository"
	notificationService "agendahub/internal/notification/service"
	recordHandler "agendahub/internal/record"
	"agendahub/internal/record/repository"
	"agendahub/internal/record/service"
	"agendahub/internal/visibility"
	"agendahub/middleware"
	"agendahub/pkg/attachment"
	"agendahub/socket"
)

type Deps struct {
	DB        *sql.DB
	Hub       *socket.Hub
	Resolver  *visibility.Resolver
	Catalog   *actor.Catalog
	Presigner *attachment.Presigner
	Config    *config.Config
}

func Setup(d Deps) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(d.Config.JWTSecret, d.Catalog)

	notifRepo := notificationRepository.NewNotificationRepository(d.DB)
	notifier := fanout.New(notifRepo, d.Hub, d.Catalog, fanout.WithRetry(d.Config.NotifyAttempts, d.Config.NotifyBackoff))

	var presigner service.Presigner
	if d.Presigner != nil {
		presigner = d.Presigner
	}
	recRepo := repository.NewRecordRepository(d.DB)
	recService := service.NewRecordService(recRepo, d.Hub, notifier, d.Resolver, presigner)
	d.Hub.Authorize = recService.AuthorizeTopic

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, _ := middleware.ActorFromContext(r.Context())
		socket.ServeWs(d.Hub, w, r, a)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	records := recordHandler.NewRecordHandler(recService)
	mux.Handle("/api/records", auth(http.HandlerFunc(records.GetRecords)))
	mux.Handle("/api/records/get", auth(http.HandlerFunc(records.GetRecord)))
	mux.Handle("/api/records/create", auth(http.HandlerFunc(records.CreateRecord)))
	mux.Handle("/api/records/update", auth(http.HandlerFunc(records.UpdateRecord)))
	mux.Handle("/api/records/delete", auth(http.HandlerFunc(records.DeleteRecord)))
	mux.Handle("/api/records/messages/add", auth(http.HandlerFunc(records.AddMessage)))
	mux.Handle("/api/records/messages", auth(http.HandlerFunc(records.GetMessages)))
	mux.Handle("/api/events/next-slot", auth(http.HandlerFunc(records.NextSlot)))
	mux.Handle("/api/events/schedule", auth(http.HandlerFunc(records.ScheduleEvent)))
	mux.Handle("/api/events/move", auth(http.HandlerFunc(records.MoveEvent)))
	mux.Handle("/api/attachments/presign", auth(http.HandlerFunc(records.PresignAttachment)))

	notifications := notificationHandler.NewNotificationHandler(notificationService.NewNotificationService(notifRepo))
	mux.Handle("/api/notifications", auth(http.HandlerFunc(notifications.GetNotifications)))
	mux.Handle("/api/notifications/read", auth(http.HandlerFunc(notifications.MarkRead)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return middleware.CORSMiddleware(mux)
}
