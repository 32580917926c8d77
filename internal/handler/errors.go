package handler

import (
	"errors"
	"net/http"
	"strconv"

	"constructlink/internal/middleware"
	"constructlink/internal/workflow"
	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a workflow error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope. Unclassified errors are logged and
// hidden behind a generic message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Any("request_id", c.Value("requestID")),
			zap.Error(err))
		c.JSON(status, response.Error(status, "Internal server error"))
		return
	}

	var fields []response.FieldError
	for _, f := range workflow.FieldErrors(err) {
		fields = append(fields, response.FieldError{Field: f.Field, Message: f.Message})
	}
	c.JSON(status, response.Invalid(status, err.Error(), fields))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, msg))
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid transfer id")
		return 0, false
	}
	return id, true
}

func actorOf(c *gin.Context) (workflow.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
	}
	return actor, ok
}
