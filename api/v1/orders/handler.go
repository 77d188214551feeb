package orders

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/httpx"
)

// OrderDTO is the list view of a certificate order
type OrderDTO struct {
	ID          int        `json:"id"`
	OrderUID    string     `json:"orderUid"`
	IdentityID  int        `json:"identityId"`
	Hostname    string     `json:"hostname"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Handler handles order API requests
type Handler struct {
	orders *acmeclient.OrderService
}

// NewHandler creates an orders handler
func NewHandler(orders *acmeclient.OrderService) *Handler {
	return &Handler{orders: orders}
}

// List returns recent orders, newest first
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			httpx.FailErr(c, httpx.ErrParamInvalid("limit must be an integer between 1 and 500"))
			return
		}
		limit = parsed
	}

	records, err := h.orders.ListRecent(c.Request.Context(), limit)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list orders", err))
		return
	}

	items := make([]OrderDTO, 0, len(records))
	for _, rec := range records {
		items = append(items, OrderDTO{
			ID:          rec.ID,
			OrderUID:    rec.OrderUID,
			IdentityID:  rec.IdentityID,
			Hostname:    rec.Hostname,
			State:       rec.State,
			Attempts:    rec.Attempts,
			LastError:   rec.LastError,
			CreatedAt:   rec.CreatedAt,
			CompletedAt: rec.CompletedAt,
		})
	}

	httpx.OK(c, gin.H{"items": items, "total": len(items)})
}
