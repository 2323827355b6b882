package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter 组装全部 HTTP 路由；staticDir 非空时把 / 映射到静态资源
func NewRouter(m *Manager, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", HandleWS(m))
	r.Post("/rooms", HandleCreateRoom(m))
	r.Get("/rooms", HandleListRooms(m))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// 管理与监控接口
	r.Get("/metrics", HandleMetrics(m))
	r.Route("/admin/rooms/{code}", func(r chi.Router) {
		r.Get("/", HandleAdminRoom(m))
		r.Post("/unlock", HandleAdminUnlock(m))
	})

	if staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(staticDir)))
	}
	return r
}
