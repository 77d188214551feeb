package trustbundle

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/httpx"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/trust"
)

// IssuerDTO describes one issuer in the trust bundle
type IssuerDTO struct {
	Subject   string    `json:"subject"`
	NotAfter  time.Time `json:"notAfter"`
	NotBefore time.Time `json:"notBefore"`
}

// Handler handles trust bundle API requests
type Handler struct {
	trust *trust.Configurator
}

// NewHandler creates a trust bundle handler
func NewHandler(trustCfg *trust.Configurator) *Handler {
	return &Handler{trust: trustCfg}
}

// Bundle returns the current mesh trust bundle
func (h *Handler) Bundle(c *gin.Context) {
	issuers := h.trust.Issuers()
	items := make([]IssuerDTO, 0, len(issuers))
	for _, cert := range issuers {
		items = append(items, IssuerDTO{
			Subject:   cert.Subject.String(),
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
		})
	}

	httpx.OK(c, gin.H{
		"bundlePem": h.trust.Bundle(),
		"issuers":   items,
	})
}

// Refresh rebuilds the trust bundle from the store on demand
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.trust.Refresh(c.Request.Context()); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to refresh trust bundle", err))
		return
	}
	httpx.OKMsg(c, "trust bundle refreshed", nil)
}
