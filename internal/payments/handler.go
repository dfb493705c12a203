package payments

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes は全ルートを認証済みグループに載せる。
// success/cancel もフロントがトークン付きで呼び直す。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/payments", h.List)
	r.GET("/payments/:id", h.Get)
	r.POST("/payments/:id/checkout", h.Checkout)
	r.GET("/payments/:id/success", h.Success)
	r.GET("/payments/:id/cancel", h.Cancel)
}

type CheckoutResponse struct {
	Payment     *Detail `json:"payment"`
	CheckoutURL string  `json:"checkout_url"`
}

func (h *Handler) List(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}

	f := ListFilter{
		Limit:  clamp(parseIntDefault(c.Query("limit"), 50), 1, 200),
		Offset: max(parseIntDefault(c.Query("offset"), 0), 0),
	}
	if v := c.Query("user_id"); v != "" {
		uid, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apperr.Abort(c, apperr.ErrInvalid("invalid user_id"))
			return
		}
		f.UserID = &uid
	}

	res, err := h.svc.List(c.Request.Context(), f, viewer)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := paymentID(c)
	if !ok {
		return
	}
	res, err := h.svc.Get(c.Request.Context(), id, viewer)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Checkout retries session creation, e.g. after PROVIDER_UNAVAILABLE on return.
func (h *Handler) Checkout(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if !h.owned(c, id, viewer) {
		return
	}

	d, err := h.svc.CreateCheckoutSession(c.Request.Context(), id)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckoutResponse{Payment: d, CheckoutURL: *d.SessionURL})
}

func (h *Handler) Success(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if !h.owned(c, id, viewer) {
		return
	}
	outcome, d, err := h.svc.ConfirmSuccess(c.Request.Context(), id)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	if outcome == NotCompleted {
		apperr.Abort(c, apperr.ErrPaymentNotCompleted())
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Payment was successful!", "payment_id": d.PaymentID, "status": d.Status})
}

func (h *Handler) Cancel(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if !h.owned(c, id, viewer) {
		return
	}
	res, err := h.svc.DescribeCancellation(c.Request.Context(), id)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

// 他人の支払いは存在しないものとして 404
func (h *Handler) owned(c *gin.Context, id uint64, viewer auth.Viewer) bool {
	if _, err := h.svc.Get(c.Request.Context(), id, viewer); err != nil {
		apperr.Abort(c, err)
		return false
	}
	return true
}

func paymentID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		apperr.Abort(c, apperr.ErrInvalid("invalid payment id"))
		return 0, false
	}
	return id, true
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clamp(v, lo, hi int) int { return min(max(v, lo), hi) }
