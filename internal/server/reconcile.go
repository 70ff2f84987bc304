package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunReconcile runs one sweep and reports what it did. Phase failures are
// returned next to the partial counts.
func (s *Server) RunReconcile(c *gin.Context) {
	if s.reconciler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	report, err := s.reconciler.RunOnce(c.Request.Context())
	if report == nil {
		if err == nil {
			err = ErrServiceUnavailable
		}
		AbortWithError(c, err)
		return
	}

	body := gin.H{"success": err == nil, "report": report}
	if err != nil {
		s.log.Warn("on-demand reconcile finished with failures", zap.Error(err))
		body["error"] = "one or more reconcile phases failed"
	}
	c.JSON(http.StatusOK, body)
}
