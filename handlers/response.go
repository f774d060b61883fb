package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"melodyquest/quiz/errs"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"ok": true, "data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": apiError{Code: code, Message: message}})
}

// statusOf maps a domain error kind to an HTTP status.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindGameNotRunning, errs.KindGameAlreadyStarted, errs.KindRoundNotStarted, errs.KindRoundEnded:
		return http.StatusConflict
	case errs.KindNoRounds, errs.KindNoCategories, errs.KindNotEnoughTracks:
		return http.StatusBadRequest
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindInvalidToken:
		return http.StatusUnauthorized
	case errs.KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failWith renders err. Errors without a domain kind are logged and hidden.
func failWith(c *gin.Context, logger *zap.Logger, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		fail(c, statusOf(e.Kind), e.Code, e.Message)
		return
	}
	logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func invalidRequest(c *gin.Context, err error) {
	fail(c, http.StatusUnprocessableEntity, string(errs.KindValidation), err.Error())
}

// pathID parses a positive numeric path parameter.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusUnprocessableEntity, string(errs.KindValidation), name+" must be a positive integer")
		return 0, false
	}
	return uint(id), true
}
