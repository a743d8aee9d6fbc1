// Package handler 提供配對服務的 HTTP API
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koopa0/cube-duel/internal/matchmaking"
	"github.com/koopa0/cube-duel/internal/registry"
	"github.com/koopa0/cube-duel/internal/session"
	"github.com/koopa0/cube-duel/internal/store"
	apperrors "github.com/koopa0/cube-duel/pkg/errors"
	"github.com/koopa0/cube-duel/pkg/logger"
)

// Handler HTTP 請求處理器
type Handler struct {
	coordinator *matchmaking.Coordinator
	sessions    *session.Coordinator
	players     *registry.PlayerRegistry
	store       store.Store
	promReg     *prometheus.Registry
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(
	coordinator *matchmaking.Coordinator,
	sessions *session.Coordinator,
	players *registry.PlayerRegistry,
	s store.Store,
	promReg *prometheus.Registry,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		sessions:    sessions,
		players:     players,
		store:       s,
		promReg:     promReg,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("POST /api/v1/matchmake", wrap(h.matchmake))
	mux.HandleFunc("POST /api/v1/friend-match", wrap(h.friendMatch))
	mux.HandleFunc("POST /api/v1/leave", wrap(h.leave))
	mux.HandleFunc("GET /api/v1/players/online", wrap(h.onlinePlayers))
	mux.HandleFunc("GET /api/v1/players/{id}", wrap(h.getPlayer))

	mux.HandleFunc("/ws", h.sessions.ServeWS)

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.promReg, promhttp.HandlerOpts{}))

	return mux
}

// 請求和響應結構
type matchmakeRequest struct {
	PlayerID string           `json:"player_id"`
	Username string           `json:"username"`
	Variant  registry.Variant `json:"variant,omitempty"`
}

type friendMatchRequest struct {
	PlayerID         string           `json:"player_id"`
	Username         string           `json:"username"`
	Variant          registry.Variant `json:"variant,omitempty"`
	OpponentReady    bool             `json:"opponent_ready"`
	OpponentPlayerID string           `json:"opponent_player_id,omitempty"`
}

type leaveRequest struct {
	PlayerID string `json:"player_id"`
	RoomID   string `json:"room_id,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// matchmake 處理配對請求
func (h *Handler) matchmake(w http.ResponseWriter, r *http.Request) {
	var req matchmakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.respondError(w, "player_id required", http.StatusBadRequest)
		return
	}
	if req.Variant == "" {
		req.Variant = registry.VariantThreeCube
	}

	ctx := logger.WithPlayerID(r.Context(), req.PlayerID)
	player := &registry.Player{ID: req.PlayerID, Username: req.Username}
	result, err := h.coordinator.Match(ctx, player, req.Variant)
	if err != nil {
		h.respondAppError(w, err, "matchmake failed")
		return
	}

	h.respondJSON(w, result)
}

// friendMatch 處理好友對戰請求
func (h *Handler) friendMatch(w http.ResponseWriter, r *http.Request) {
	var req friendMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.respondError(w, "player_id required", http.StatusBadRequest)
		return
	}
	if req.Variant == "" {
		req.Variant = registry.VariantThreeCube
	}

	ctx := logger.WithPlayerID(r.Context(), req.PlayerID)
	player := &registry.Player{ID: req.PlayerID, Username: req.Username}
	result, err := h.coordinator.FriendMatch(ctx, player, req.Variant, req.OpponentReady, req.OpponentPlayerID)
	if err != nil {
		h.respondAppError(w, err, "friend match failed")
		return
	}

	h.respondJSON(w, result)
}

// leave 玩家離開佇列或房間
func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.respondError(w, "player_id required", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.Leave(logger.WithPlayerID(r.Context(), req.PlayerID), req.PlayerID, req.RoomID); err != nil {
		h.respondAppError(w, err, "leave failed")
		return
	}

	h.respondJSON(w, map[string]bool{"success": true})
}

// onlinePlayers 目前在線的玩家 id
func (h *Handler) onlinePlayers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, map[string][]string{
		"players": h.sessions.Presence().OnlineIDs(),
	})
}

// getPlayer 查詢單一玩家的目前狀態
func (h *Handler) getPlayer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.respondError(w, "player id required", http.StatusBadRequest)
		return
	}

	player, err := h.players.Get(r.Context(), id)
	if err != nil {
		h.respondAppError(w, err, "player lookup failed")
		return
	}

	h.respondJSON(w, player)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查：共享儲存連得上才算就緒
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondError(w, "store not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// respondAppError 將應用錯誤映射為 HTTP 狀態碼
func (h *Handler) respondAppError(w http.ResponseWriter, err error, logMsg string) {
	h.logger.Error(logMsg, "error", err)

	status := http.StatusInternalServerError
	code := apperrors.ErrCodeInternal

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		switch {
		case apperrors.IsNotFound(err):
			status = http.StatusNotFound
		case apperrors.IsLockUnavailable(err):
			// 可重試：讓客戶端帶 Retry-After 重送
			status = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", "1")
		case apperrors.IsRoomFull(err):
			status = http.StatusConflict
		case appErr.Code == apperrors.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Code: code, Error: logMsg}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

// 中間件
// loggerMiddleware 為每個請求發 request id 並記錄請求日誌；
// id 進入請求上下文，讓下游的 *Context 日誌自動帶上
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r.WithContext(ctx))

		h.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered", "error", err)
				h.respondError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err, "message", message)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
