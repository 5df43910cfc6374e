package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"onetime.share/config"
	"onetime.share/internal/pin"
	"onetime.share/internal/secrets"
	"onetime.share/internal/store"
	"onetime.share/web"
)

type Handler struct {
	service *secrets.Service
	config  *config.Config
}

func NewHandler(s *secrets.Service, cfg *config.Config) *Handler {
	return &Handler{
		service: s,
		config:  cfg,
	}
}

type CreateRequest struct {
	Text             string `json:"text"`
	PIN              string `json:"pin,omitempty"`
	ExpiresInMinutes int    `json:"expires_in_minutes,omitempty"`
}

type CreateResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RevealResponse struct {
	Text string `json:"text"`
}

type PinPromptResponse struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Create(r.Context(), secrets.CreateRequest{
		Text:      req.Text,
		PIN:       req.PIN,
		TTL:       time.Duration(req.ExpiresInMinutes) * time.Minute,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, secrets.ErrEmptySecret):
			h.error(w, http.StatusBadRequest, "text is required")
		case errors.Is(err, secrets.ErrSecretTooLong):
			h.error(w, http.StatusBadRequest, "text is too long")
		case errors.Is(err, pin.ErrBadFormat):
			h.error(w, http.StatusBadRequest, "pin must be 4-20 letters or digits")
		case errors.Is(err, store.ErrUnavailable):
			h.error(w, http.StatusServiceUnavailable, "service unavailable")
		default:
			h.error(w, http.StatusInternalServerError, "failed to create secret")
		}
		return
	}

	url := h.config.Server.BaseURL + "/s/" + result.ID + "?token=" + result.Token

	h.json(w, http.StatusCreated, CreateResponse{
		ID:        result.ID,
		Token:     result.Token,
		URL:       url,
		ExpiresAt: result.ExpiresAt,
	})
}

func (h *Handler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Retrieve(r.Context(), secrets.RetrieveRequest{
		ID:        chi.URLParam(r, "id"),
		Token:     r.URL.Query().Get("token"),
		PIN:       r.URL.Query().Get("pin"),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			h.error(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		h.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch result.Outcome {
	case secrets.OutcomeRevealed:
		h.json(w, http.StatusOK, RevealResponse{Text: result.Text})
	case secrets.OutcomePinRequired:
		h.json(w, http.StatusUnauthorized, PinPromptResponse{
			Error:    "pin_required",
			Attempts: result.Attempts,
		})
	case secrets.OutcomeBadPinFormat:
		h.json(w, http.StatusBadRequest, PinPromptResponse{
			Error:    "invalid_pin_format",
			Attempts: result.Attempts,
		})
	case secrets.OutcomeLocked:
		h.error(w, http.StatusForbidden, "too many attempts")
	case secrets.OutcomeInvalidLink, secrets.OutcomeNotFound:
		// Identical response for a bad token and a missing, expired or
		// consumed record, so probing a link reveals nothing.
		h.error(w, http.StatusNotFound, "secret not found")
	case secrets.OutcomeDecryptFailed:
		h.error(w, http.StatusInternalServerError, "decryption failed")
	default:
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "index.html")
}

func (h *Handler) RevealPage(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, "reveal.html")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}
