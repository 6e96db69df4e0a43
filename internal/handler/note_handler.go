package handler

import (
	"encoding/json"
	"net/http"

	"notes-server/internal/domain"
	"notes-server/internal/middleware"
	"notes-server/internal/service"
	"notes-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type NoteHandler struct {
	service  *service.NoteService
	validate *validator.Validate
	log      zerolog.Logger

	// Prefix of issued share URLs; derived per request when empty.
	shareBaseURL string
	trustProxy   bool
}

func NewNoteHandler(service *service.NoteService, shareBaseURL string, trustProxy bool, log zerolog.Logger) *NoteHandler {
	return &NoteHandler{
		service:      service,
		validate:     validator.New(),
		log:          log,
		shareBaseURL: shareBaseURL,
		trustProxy:   trustProxy,
	}
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	note, err := h.service.Create(r.Context(), middleware.GetUserID(r), req.Content)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create note")
		return
	}

	response.Created(w, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.List(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list notes")
		return
	}

	response.Success(w, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.Get(r.Context(), middleware.GetUserID(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateNoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	note, err := h.service.Update(r.Context(), middleware.GetUserID(r), mux.Vars(r)["id"], req.Content, *req.Version)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.GetUserID(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete note")
		return
	}

	response.NoContent(w)
}

func (h *NoteHandler) Share(w http.ResponseWriter, r *http.Request) {
	baseURL := h.shareBaseURL
	if baseURL == "" {
		baseURL = requestBaseURL(r, h.trustProxy)
	}

	share, err := h.service.Share(r.Context(), middleware.GetUserID(r), mux.Vars(r)["id"], baseURL)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to share note")
		return
	}

	response.Success(w, share)
}

// GetPublic serves a shared note to anyone holding its token.
func (h *NoteHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.GetPublic(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get note")
		return
	}

	response.Success(w, note)
}
