// README: Base handler utilities (JSON helpers, error mapping by kind).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"orbix/internal/apperrors"
)

type errorResponse struct {
	Error string         `json:"error"`
	Kind  apperrors.Kind `json:"kind,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusFor maps a failure kind to the status the control API answers with.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindInvalidTransition:
		return http.StatusConflict
	case apperrors.KindInvalidOTP:
		return http.StatusUnprocessableEntity
	case apperrors.KindBadRequest:
		return http.StatusBadRequest
	case apperrors.KindNetwork, apperrors.KindGateway:
		return http.StatusBadGateway
	case apperrors.KindPayment:
		return http.StatusPaymentRequired
	case apperrors.KindNoMatchFound:
		return http.StatusNotFound
	case apperrors.KindGeolocationUnavailable, apperrors.KindRoutingUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	var ae *apperrors.Error
	if errors.As(err, &ae) && ae.Err != nil {
		msg = ae.Err.Error()
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	writeJSON(c, status, errorResponse{Error: msg, Kind: kind})
}

// bindJSON decodes the body into v and answers 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: "invalid json", Kind: apperrors.KindBadRequest})
		return false
	}
	return true
}
