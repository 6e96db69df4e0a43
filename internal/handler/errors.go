package handler

import (
	"errors"
	"net/http"

	"notes-server/internal/service"
	"notes-server/pkg/response"

	"github.com/rs/zerolog"
)

// Request bodies larger than this are rejected before decoding.
const maxBodyBytes = 2 << 20

// writeServiceError maps a service error onto a status code. Errors the
// service does not name are logged and reported as fallback with a 500.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	var conflict *service.VersionConflictError

	switch {
	case errors.As(err, &conflict):
		response.ErrorWithData(w, http.StatusConflict, "version_conflict", map[string]int64{
			"current_version": conflict.CurrentVersion,
		})
	case errors.Is(err, service.ErrNoteNotFound):
		response.NotFound(w, "Note not found")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotPublic):
		response.Forbidden(w, "Note is not public")
	case errors.Is(err, service.ErrUnauthenticated):
		response.Unauthorized(w, "Unauthorized")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(w, "User not found")
	default:
		log.Error().Err(err).Msg(fallback)
		response.InternalError(w, fallback)
	}
}
