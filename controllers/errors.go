package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/common/logger"
	"github.com/rabby420bd/tj/services"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindProductUnavailable:  http.StatusConflict,
	services.KindInsufficientStock:   http.StatusConflict,
	services.KindTransactionConflict: http.StatusConflict,
	services.KindValidation:          http.StatusBadRequest,
	services.KindNotFound:            http.StatusNotFound,
	services.KindInternal:            http.StatusInternalServerError,
}

// toAppError maps a service failure onto the JSON error body. Internal
// errors keep a generic message so store details never leak.
func toAppError(err error) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	var se *services.ServiceError
	if !errors.As(err, &se) {
		return apperrors.ErrInternalServer.Wrap(err)
	}
	code, ok := kindStatus[se.Kind]
	if !ok || code == http.StatusInternalServerError {
		return apperrors.ErrInternalServer.Wrap(err).WithKind(string(services.KindInternal), nil)
	}
	return apperrors.New(code, se.Message, err).WithKind(string(se.Kind), se.Details())
}

func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		logger.Error(c, "request failed", err)
	}
	apperrors.Abort(c, appErr)
}

func badRequest(c *gin.Context, message string, err error) {
	apperrors.Abort(c, apperrors.New(http.StatusBadRequest, message, err).WithKind(string(services.KindValidation), nil))
}
