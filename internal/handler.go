package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
	"github.com/koopa0/letterduel/pkg/logger"
)

// Handler HTTP 介面
//
// 路由一律掛在 /api/v1 下，玩家身份取自 JWT 的 subject，
// 請求體不再帶 username。排行榜與題庫是無憑證的讀取端點，
// 由限流守門保護。
type Handler struct {
	matchmaker *Matchmaker
	engine     *Engine
	store      Store
	hub        *Hub
	limiter    *RateLimiter
	verifier   Verifier
	logger     *slog.Logger
}

// NewHandler 創建 HTTP 介面
func NewHandler(matchmaker *Matchmaker, engine *Engine, store Store, hub *Hub, limiter *RateLimiter, verifier Verifier, log *slog.Logger) *Handler {
	return &Handler{
		matchmaker: matchmaker,
		engine:     engine,
		store:      store,
		hub:        hub,
		limiter:    limiter,
		verifier:   verifier,
		logger:     log,
	}
}

// Routes 組裝路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/game/create", h.authenticated(h.createGame))
	mux.HandleFunc("POST /api/v1/game/connect/random", h.authenticated(h.joinRandom))
	mux.HandleFunc("POST /api/v1/game/connect", h.authenticated(h.joinByInvite))
	mux.HandleFunc("POST /api/v1/game/gameplay", h.authenticated(h.gameplay))
	mux.HandleFunc("POST /api/v1/game/{id}/roll", h.authenticated(h.rollQuestion))
	mux.HandleFunc("GET /api/v1/game/{id}", h.authenticated(h.getGame))
	mux.HandleFunc("GET /api/v1/game/history", h.authenticated(h.gameHistory))

	mux.HandleFunc("GET /api/v1/leaderboard", h.limiter.Guard(h.leaderboard))
	mux.HandleFunc("GET /api/v1/questions", h.limiter.Guard(h.listQuestions))
	mux.HandleFunc("POST /api/v1/questions", h.authenticated(h.createQuestion))

	mux.HandleFunc("GET /ws", h.hub.ServeWS)
	mux.HandleFunc("GET /health", h.health)

	return h.withRecovery(h.withRequestLog(mux))
}

// gameResponse 帶出呼叫方自己的 session token
//
// token 不放在對局 JSON 裡，避免把對手的憑證一併外洩
type gameResponse struct {
	Game         *Game  `json:"game"`
	SessionToken string `json:"sessionToken,omitempty"`
}

func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	username := logger.UserID(r.Context())

	game, err := h.matchmaker.CreateGame(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, gameResponse{
		Game:         game,
		SessionToken: sessionTokenFor(game, username),
	})
}

func (h *Handler) joinRandom(w http.ResponseWriter, r *http.Request) {
	username := logger.UserID(r.Context())

	game, err := h.matchmaker.JoinRandom(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gameResponse{
		Game:         game,
		SessionToken: sessionTokenFor(game, username),
	})
}

func (h *Handler) joinByInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	username := logger.UserID(r.Context())
	game, err := h.matchmaker.JoinByInvite(r.Context(), req.GameID, username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gameResponse{
		Game:         game,
		SessionToken: sessionTokenFor(game, username),
	})
}

func (h *Handler) gameplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID string `json:"gameId"`
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	username := logger.UserID(r.Context())
	game, err := h.engine.SubmitAnswer(r.Context(), req.GameID, username, req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gameResponse{Game: game})
}

func (h *Handler) rollQuestion(w http.ResponseWriter, r *http.Request) {
	username := logger.UserID(r.Context())

	game, err := h.engine.RollQuestion(r.Context(), r.PathValue("id"), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gameResponse{Game: game})
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.engine.GetGame(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gameResponse{Game: game})
}

func (h *Handler) gameHistory(w http.ResponseWriter, r *http.Request) {
	games, err := h.engine.GameHistory(r.Context(), logger.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if games == nil {
		games = []Game{}
	}
	h.writeJSON(w, http.StatusOK, games)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.Leaderboard(r.Context(), 10)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.AllQuestions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []Question{}
	}
	h.writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string `json:"text"`
		Answer     string `json:"answer"`
		Difficulty int    `json:"difficulty"`
		Points     int    `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	question, err := NewQuestion(req.Text, req.Answer, req.Difficulty, req.Points)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.SaveQuestion(r.Context(), question); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, question)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticated 驗證 Authorization 標頭並把玩家掛進 context
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := h.verifier.Verify(r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(logger.WithUserID(r.Context(), username)))
	}
}

// withRequestLog 請求日誌與 request id
func (h *Handler) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRequestID(r.Context(), uuid.NewString())
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		h.logger.InfoContext(ctx, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

// withRecovery panic 保護
func (h *Handler) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				h.writeError(w, r, apperrors.New(apperrors.ErrCodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response failed", slog.Any("error", err))
	}
}

// writeError 錯誤碼對應 HTTP 狀態
//
// 答錯的 406 是前端依賴的契約：它知道該亮紅框而不是報錯
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal error")
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidState, apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeWrongAnswer:
		status = http.StatusNotAcceptable
	case apperrors.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
	case apperrors.ErrCodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}

	h.writeJSON(w, status, appErr)
}

// sessionTokenFor 取出指定玩家在對局中的 session token
func sessionTokenFor(game *Game, username string) string {
	switch username {
	case game.FirstUser:
		return game.FirstSessionToken
	case game.SecondUser:
		return game.SecondSessionToken
	}
	return ""
}
