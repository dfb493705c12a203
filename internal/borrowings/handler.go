package borrowings

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/borrowings", h.Create)
	r.GET("/borrowings", h.List)
	r.GET("/borrowings/:id", h.Get)
	r.POST("/borrowings/:id/return", h.Return)
}

func (h *Handler) Create(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}

	var req CreateBorrowingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Abort(c, apperr.ErrInvalid(err.Error()))
		return
	}
	expected, err := parseDate(req.ExpectedReturnDate)
	if err != nil {
		apperr.Abort(c, apperr.ErrInvalidDate("expected_return_date must be YYYY-MM-DD"))
		return
	}

	row, err := h.svc.Borrow(c.Request.Context(), BorrowInput{BookID: req.BookID, ExpectedReturnDate: expected}, viewer)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRowResponse(*row))
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
	if v := c.Query("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			apperr.Abort(c, apperr.ErrInvalid("is_active must be true or false"))
			return
		}
		f.IsActive = &active
	}
	if v := c.Query("user_id"); v != "" {
		uid, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apperr.Abort(c, apperr.ErrInvalid("invalid user_id"))
			return
		}
		f.UserID = &uid
	}

	rows, err := h.svc.List(c.Request.Context(), f, viewer)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	out := make([]BorrowingResponse, len(rows))
	for i, r := range rows {
		out[i] = toRowResponse(r)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Get(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := borrowingID(c)
	if !ok {
		return
	}
	row, err := h.svc.Get(c.Request.Context(), id, viewer)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toRowResponse(*row))
}

func (h *Handler) Return(c *gin.Context) {
	viewer, ok := auth.MustViewer(c)
	if !ok {
		return
	}
	id, ok := borrowingID(c)
	if !ok {
		return
	}

	res, err := h.svc.Return(c.Request.Context(), id, viewer)
	if err != nil {
		if res != nil {
			// 返却自体はコミット済み
			c.AbortWithStatusJSON(apperr.ToHTTPStatus(err), returnErrorDTO{ErrorDTO: apperr.FromErr(err), Payment: res.Payment})
			return
		}
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, ReturnResponse{
		Borrowing:   toResponse(res.Borrowing),
		Payment:     res.Payment,
		CheckoutURL: res.CheckoutURL,
	})
}

// ---------- helpers ----------

func borrowingID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		apperr.Abort(c, apperr.ErrInvalid("invalid borrowing id"))
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
