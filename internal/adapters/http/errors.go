package http

import (
	"net/http"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindConflict, domain.KindDuplicate:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindDisabled:
		return http.StatusLocked
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindDeviceUnavailable, domain.KindTransientTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": code, "message": text}. Internal
// errors are logged and their text is not exposed.
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": domain.CodeOf(err), "message": msg})
}
