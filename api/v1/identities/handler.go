package identities

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/httpx"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/identity"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/rotation"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/trust"
)

// IdentityDTO is the list view of a service identity
type IdentityDTO struct {
	ID                  int        `json:"id"`
	Name                string     `json:"name"`
	Hostname            string     `json:"hostname"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	CertVersion         int        `json:"certVersion,omitempty"`
	CertFingerprint     string     `json:"certFingerprint,omitempty"`
	CertExpiresAt       *time.Time `json:"certExpiresAt,omitempty"`
}

// MaterialResponse carries everything one service needs for mTLS
type MaterialResponse struct {
	Identity  string `json:"identity"`
	Hostname  string `json:"hostname"`
	Version   int    `json:"version"`
	CertPem   string `json:"certPem"`
	KeyPem    string `json:"keyPem"`
	ChainPem  string `json:"chainPem"`
	BundlePem string `json:"bundlePem"`
}

// Handler handles identity API requests
type Handler struct {
	identities *identity.Service
	store      *certstore.Store
	scheduler  *rotation.Scheduler
	trust      *trust.Configurator
}

// NewHandler creates an identities handler
func NewHandler(identities *identity.Service, store *certstore.Store, scheduler *rotation.Scheduler, trustCfg *trust.Configurator) *Handler {
	return &Handler{
		identities: identities,
		store:      store,
		scheduler:  scheduler,
		trust:      trustCfg,
	}
}

// List returns all identities with their current certificate summary
func (h *Handler) List(c *gin.Context) {
	identities, err := h.identities.List(c.Request.Context())
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list identities", err))
		return
	}

	items := make([]IdentityDTO, 0, len(identities))
	for _, ident := range identities {
		dto := IdentityDTO{
			ID:                  ident.ID,
			Name:                ident.Name,
			Hostname:            ident.Hostname,
			Status:              ident.Status,
			ConsecutiveFailures: ident.ConsecutiveFailures,
			LastError:           ident.LastError,
		}
		entry, err := h.store.Get(c.Request.Context(), ident.ID)
		if err == nil {
			dto.CertVersion = entry.Version
			dto.CertFingerprint = entry.Fingerprint
			expiresAt := entry.ExpiresAt
			dto.CertExpiresAt = &expiresAt
		} else if !errors.Is(err, certstore.ErrNoRecord) {
			httpx.FailErr(c, httpx.FromCertErr(err))
			return
		}
		items = append(items, dto)
	}

	httpx.OK(c, gin.H{"items": items, "total": len(items)})
}

// Issue forces an immediate issuance for the identity
func (h *Handler) Issue(c *gin.Context) {
	ident, err := h.identities.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrNotFound(err.Error()))
		return
	}

	if err := h.scheduler.ForceRotate(c.Request.Context(), ident); err != nil {
		if errors.Is(err, acmeclient.ErrOrderInFlight) {
			httpx.FailErr(c, httpx.ErrStateConflict("an order is already in flight for this identity"))
			return
		}
		httpx.FailErr(c, httpx.FromCertErr(err))
		return
	}

	httpx.OKMsg(c, "certificate issued", gin.H{"identity": ident.Name})
}

// Reset clears the failure counter and restores a degraded identity to
// active, putting it back into automatic rotation
func (h *Handler) Reset(c *gin.Context) {
	ident, err := h.identities.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrNotFound(err.Error()))
		return
	}

	if err := h.identities.ResetFailures(c.Request.Context(), ident.ID); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to reset identity", err))
		return
	}

	httpx.OKMsg(c, "identity reset", gin.H{"identity": ident.Name})
}

// Material returns the identity's current certificate, private key, chain
// and the mesh trust bundle
func (h *Handler) Material(c *gin.Context) {
	ident, err := h.identities.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrNotFound(err.Error()))
		return
	}

	material, err := h.trust.CurrentMaterial(c.Request.Context(), ident)
	if err != nil {
		if errors.Is(err, certstore.ErrNoRecord) {
			httpx.FailErr(c, httpx.ErrNotFound("no certificate issued yet for this identity"))
			return
		}
		httpx.FailErr(c, httpx.FromCertErr(err))
		return
	}

	httpx.OK(c, MaterialResponse{
		Identity:  material.IdentityName,
		Hostname:  material.Hostname,
		Version:   material.Version,
		CertPem:   material.CertPem,
		KeyPem:    material.KeyPem,
		ChainPem:  material.ChainPem,
		BundlePem: material.BundlePem,
	})
}

// Versions lists the stored certificate versions for the identity, newest
// first. Keys are never included here.
func (h *Handler) Versions(c *gin.Context) {
	ident, err := h.identities.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpx.FailErr(c, httpx.ErrNotFound(err.Error()))
		return
	}

	records, err := h.store.ListVersions(c.Request.Context(), ident.ID)
	if err != nil {
		httpx.FailErr(c, httpx.FromCertErr(err))
		return
	}

	type versionDTO struct {
		Version     int       `json:"version"`
		Issuer      string    `json:"issuer"`
		Fingerprint string    `json:"fingerprint"`
		IssuedAt    time.Time `json:"issuedAt"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}
	items := make([]versionDTO, 0, len(records))
	for _, rec := range records {
		items = append(items, versionDTO{
			Version:     rec.Version,
			Issuer:      rec.Issuer,
			Fingerprint: rec.Fingerprint,
			IssuedAt:    rec.IssuedAt,
			ExpiresAt:   rec.ExpiresAt,
		})
	}

	httpx.OK(c, gin.H{"identity": ident.Name, "items": items, "total": len(items)})
}
