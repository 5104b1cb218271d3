package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wedding-invitations/internal/dispatch"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/jobs"
	"wedding-invitations/internal/message"
	"wedding-invitations/internal/storage"
	"wedding-invitations/internal/worker"
)

// ApiResponse is the envelope of every JSON response
type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, ApiResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string, err error) {
	resp := ApiResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

// failErr picks the status for err from the sentinel errors of the domain packages.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, invitation.ErrGuestNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		fail(c, http.StatusNotFound, "Not found", err)
	case errors.Is(err, storage.ErrDuplicate):
		fail(c, http.StatusConflict, "Already exists", err)
	case errors.Is(err, storage.ErrInvalidList),
		errors.Is(err, worker.ErrInvalidList),
		errors.Is(err, invitation.ErrNameRequired),
		errors.Is(err, message.ErrEmptyTemplate),
		errors.Is(err, dispatch.ErrNoRecipients):
		fail(c, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, dispatch.ErrProviderNotConfigured):
		fail(c, http.StatusUnprocessableEntity, "Provider not configured", err)
	default:
		fail(c, http.StatusInternalServerError, "Internal error", err)
	}
}
