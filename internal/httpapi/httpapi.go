// Package httpapi is the operator-facing HTTP surface: advertisement CRUD,
// bot lifecycle, and campaign triggering/status. Broadcasts themselves run
// on the task engine; the trigger endpoint only validates and queues.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/bots"
	"github.com/viktordrukker/telegram-bot-ui/internal/broadcast"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

type Handler struct {
	store     storage.Store
	broadcast *broadcast.Service
	bots      *bots.Service
	log       logx.Logger
}

func New(st storage.Store, bc *broadcast.Service, bt *bots.Service, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{store: st, broadcast: bc, bots: bt, log: log}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/advertisements", func(r chi.Router) {
			r.Post("/", h.createAd)
			r.Get("/", h.listAds)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAd)
				r.Delete("/", h.deleteAd)
				r.Post("/broadcast", h.triggerBroadcast)
				r.Get("/status", h.campaignStatus)
			})
		})
		r.Route("/bots", func(r chi.Router) {
			r.Post("/", h.registerBot)
			r.Get("/", h.listBots)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/start", h.startBot)
				r.Post("/stop", h.stopBot)
				r.Post("/chats", h.registerChat)
			})
		})
	})

	return r
}

// --- advertisements ---

type createAdRequest struct {
	UserID       int64      `json:"user_id"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	MediaURLs    []string   `json:"media_urls,omitempty"`
	Price        float64    `json:"price"`
	TargetBots   []int64    `json:"target_bots,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type adResponse struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Media        []mediaItem `json:"media,omitempty"`
	Price        float64     `json:"price"`
	TargetBots   []int64     `json:"target_bots,omitempty"`
	Status       ads.Status  `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ScheduledFor *time.Time  `json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

type mediaItem struct {
	URL  string        `json:"url"`
	Kind ads.MediaKind `json:"kind"`
}

func toAdResponse(a *ads.Advertisement) adResponse {
	resp := adResponse{
		ID:           a.ID,
		UserID:       a.UserID,
		Title:        a.Title,
		Content:      a.Content,
		Price:        a.Price,
		TargetBots:   a.TargetBots,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
		ScheduledFor: a.ScheduledFor,
		CompletedAt:  a.CompletedAt,
	}
	for _, m := range a.Media {
		resp.Media = append(resp.Media, mediaItem{URL: m.URL, Kind: m.Kind})
	}
	return resp
}

func (h *Handler) createAd(w http.ResponseWriter, r *http.Request) {
	var req createAdRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}
	if req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	ad := &ads.Advertisement{
		UserID:       req.UserID,
		Title:        req.Title,
		Content:      req.Content,
		Media:        ads.MediaRefs(req.MediaURLs),
		Price:        req.Price,
		TargetBots:   req.TargetBots,
		Status:       ads.StatusPending,
		ScheduledFor: req.ScheduledFor,
	}
	if err := h.store.CreateAd(r.Context(), ad); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.log.Info("advertisement created", logx.Int64("ad", ad.ID), logx.Int64("user", ad.UserID))
	writeJSON(w, http.StatusCreated, toAdResponse(ad))
}

func (h *Handler) listAds(w http.ResponseWriter, r *http.Request) {
	userID, err := optionalInt64(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be an integer")
		return
	}
	list, err := h.store.ListAds(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]adResponse, 0, len(list))
	for i := range list {
		out = append(out, toAdResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAd(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ad, err := h.store.GetAd(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdResponse(ad))
}

func (h *Handler) deleteAd(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAd(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.log.Info("advertisement deleted", logx.Int64("ad", id))
	w.WriteHeader(http.StatusNoContent)
}

type triggerRequest struct {
	BotIDs []int64 `json:"bot_ids,omitempty"`
}

func (h *Handler) triggerBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req triggerRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.broadcast.TriggerBroadcast(r.Context(), id, req.BotIDs); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ad_id": id, "status": "queued"})
}

func (h *Handler) campaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.broadcast.Status(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- bots ---

type registerBotRequest struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
	Name   string `json:"name"`
}

type botResponse struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	Name       string        `json:"name"`
	Status     ads.BotStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive *time.Time    `json:"last_active,omitempty"`
}

// toBotResponse never echoes the token back.
func toBotResponse(b *ads.Bot) botResponse {
	return botResponse{
		ID:         b.ID,
		UserID:     b.UserID,
		Name:       b.Name,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
		LastActive: b.LastActive,
	}
}

func (h *Handler) registerBot(w http.ResponseWriter, r *http.Request) {
	var req registerBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.bots.Register(r.Context(), req.UserID, req.Token, req.Name)
	if err != nil {
		if errors.Is(err, ads.ErrConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toBotResponse(b))
}

func (h *Handler) listBots(w http.ResponseWriter, r *http.Request) {
	userID, err := optionalInt64(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be an integer")
		return
	}
	list, err := h.store.ListBots(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]botResponse, 0, len(list))
	for i := range list {
		out = append(out, toBotResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) startBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.bots.Start(r.Context(), id)
	if err != nil {
		if errors.Is(err, ads.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		// Provider rejected the credential; bot is now in the error state.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toBotResponse(b))
}

func (h *Handler) stopBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.bots.Stop(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBotResponse(b))
}

type registerChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

func (h *Handler) registerChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req registerChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	if err := h.bots.RegisterChat(r.Context(), id, req.ChatID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ads.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ads.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ads.ErrNoValidTargets):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func optionalInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
