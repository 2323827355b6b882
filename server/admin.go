package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func lookupRoom(m *Manager, w http.ResponseWriter, code string) (*Room, bool) {
	room, ok := m.GetRoom(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return nil, false
	}
	return room, true
}

// HandleAdminRoom 返回房间名单、锁定状态与大厅阶段
// GET /admin/rooms/{code}
func HandleAdminRoom(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := lookupRoom(m, w, chi.URLParam(r, "code"))
		if !ok {
			return
		}
		view, err := room.Inspect(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleAdminUnlock 显式解锁房间，允许后来者加入
// POST /admin/rooms/{code}/unlock
func HandleAdminUnlock(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := lookupRoom(m, w, chi.URLParam(r, "code"))
		if !ok {
			return
		}
		was, err := room.Unlock(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wasLocked": was})
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=1234
func HandleMetrics(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("room")
		room, ok := lookupRoom(m, w, code)
		if !ok {
			return
		}
		view, err := room.Inspect(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"room":    code,
			"tick":    view.Tick,
			"metrics": room.Metrics().Snapshot(),
		})
	}
}

// HandleCreateRoom 创建空房间并返回房间号（随后通过 /ws?room= 加入）
// POST /rooms
func HandleCreateRoom(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := m.CreateRoom()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrRoomCodesExhausted) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: room.ID})
	}
}

// HandleListRooms GET /rooms
func HandleListRooms(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.ListRooms(r.Context()))
	}
}
