package coupon

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"slotwise-platform/pkg/db/pagination"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/health"
	"slotwise-platform/pkg/middleware"
	"slotwise-platform/services/redemption"
)

type Handler struct {
	svc      *Service
	registry *Registry
	cache    *DefinitionCache
}

func NewHandler(svc *Service, registry *Registry, cache *DefinitionCache) *Handler {
	return &Handler{svc: svc, registry: registry, cache: cache}
}

func RegisterRoutes(e *gin.Engine, h *Handler, hc health.HealthService) {
	e.GET("/healthz", hc.Liveness)
	e.GET("/readyz", hc.Readiness)

	v1 := e.Group("/v1", middleware.Error(), middleware.Tenant())

	v1.POST("/coupons/validate", h.Validate)
	v1.POST("/redemptions/reserve", h.Reserve)
	v1.POST("/redemptions/:token/confirm", h.Confirm)
	v1.POST("/redemptions/:token/release", h.Release)

	admin := v1.Group("/admin")
	admin.POST("/coupons", h.CreateCoupon)
	admin.GET("/coupons", h.ListCoupons)
	admin.GET("/coupons/:id", h.GetCoupon)
	admin.PATCH("/coupons/:id", h.UpdateCoupon)
	admin.POST("/coupons/:id/activate", h.SetActive(true))
	admin.POST("/coupons/:id/deactivate", h.SetActive(false))
	admin.PUT("/coupons/:id/services", h.SetServices)
	admin.GET("/coupons/:id/usage", h.Usage)
}

type lineItemRequest struct {
	ID        string          `json:"id" binding:"required"`
	ServiceID string          `json:"service_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type validateRequest struct {
	Code       string            `json:"code" binding:"required"`
	CustomerID string            `json:"customer_id" binding:"required"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	LineItems  []lineItemRequest `json:"line_items" binding:"required,min=1"`
}

func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	items := make([]LineItem, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		items = append(items, LineItem{ID: li.ID, ServiceID: li.ServiceID, Amount: li.Amount})
	}

	quote, err := h.svc.ValidateAndPrice(c.Request.Context(), ValidateRequest{
		TenantID:   middleware.TenantFromContext(c.Request.Context()),
		Code:       req.Code,
		CustomerID: req.CustomerID,
		Subtotal:   req.Subtotal,
		LineItems:  items,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type reserveRequest struct {
	Code       string `json:"code" binding:"required"`
	CustomerID string `json:"customer_id" binding:"required"`
}

type reservationResponse struct {
	Token     string    `json:"token"`
	Reference string    `json:"reference,omitempty"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	rec, err := h.svc.Reserve(c.Request.Context(), ReserveRequest{
		TenantID:   middleware.TenantFromContext(c.Request.Context()),
		Code:       req.Code,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservationResponse{
		Token:     rec.ID,
		Reference: rec.Reference,
		State:     string(rec.State),
		ExpiresAt: rec.ExpiresAt,
	})
}

type confirmRequest struct {
	BookingID        string          `json:"booking_id" binding:"required"`
	AmountDiscounted decimal.Decimal `json:"amount_discounted"`
}

func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	rec, err := h.svc.Confirm(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("token"), req.BookingID, req.AmountDiscounted)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Release(c *gin.Context) {
	rec, err := h.svc.Release(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("token"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type couponRequest struct {
	Code                  string           `json:"code"`
	Name                  string           `json:"name"`
	Description           string           `json:"description"`
	DiscountType          DiscountType     `json:"discount_type"`
	DiscountValue         decimal.Decimal  `json:"discount_value"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount"`
	MinOrderValue         *decimal.Decimal `json:"min_order_value"`
	Scope                 Scope            `json:"scope"`
	ServiceIDs            []string         `json:"service_ids"`
	TotalUsageLimit       *int             `json:"total_usage_limit"`
	PerCustomerUsageLimit *int             `json:"per_customer_usage_limit"`
	StartAt               *time.Time       `json:"start_at"`
	EndAt                 *time.Time       `json:"end_at"`
}

func (h *Handler) CreateCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	coupon, err := h.registry.Create(c.Request.Context(), CreateCouponInput{
		TenantID:              middleware.TenantFromContext(c.Request.Context()),
		Code:                  req.Code,
		Name:                  req.Name,
		Description:           req.Description,
		DiscountType:          req.DiscountType,
		DiscountValue:         req.DiscountValue,
		MaxDiscountAmount:     req.MaxDiscountAmount,
		MinOrderValue:         req.MinOrderValue,
		Scope:                 req.Scope,
		ServiceIDs:            req.ServiceIDs,
		TotalUsageLimit:       req.TotalUsageLimit,
		PerCustomerUsageLimit: req.PerCustomerUsageLimit,
		StartAt:               req.StartAt,
		EndAt:                 req.EndAt,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

type updateCouponRequest struct {
	Name                  *string          `json:"name"`
	Description           *string          `json:"description"`
	DiscountType          *DiscountType    `json:"discount_type"`
	DiscountValue         *decimal.Decimal `json:"discount_value"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount"`
	MinOrderValue         *decimal.Decimal `json:"min_order_value"`
	Scope                 *Scope           `json:"scope"`
	ServiceIDs            []string         `json:"service_ids"`
	TotalUsageLimit       *int             `json:"total_usage_limit"`
	PerCustomerUsageLimit *int             `json:"per_customer_usage_limit"`
	StartAt               *time.Time       `json:"start_at"`
	EndAt                 *time.Time       `json:"end_at"`
}

func (h *Handler) UpdateCoupon(c *gin.Context) {
	var req updateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	coupon, err := h.registry.Update(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("id"), UpdateCouponInput{
			Name:                  req.Name,
			Description:           req.Description,
			DiscountType:          req.DiscountType,
			DiscountValue:         req.DiscountValue,
			MaxDiscountAmount:     req.MaxDiscountAmount,
			MinOrderValue:         req.MinOrderValue,
			Scope:                 req.Scope,
			ServiceIDs:            req.ServiceIDs,
			TotalUsageLimit:       req.TotalUsageLimit,
			PerCustomerUsageLimit: req.PerCustomerUsageLimit,
			StartAt:               req.StartAt,
			EndAt:                 req.EndAt,
		})
	if err != nil {
		abort(c, err)
		return
	}
	h.cache.Invalidate(coupon.TenantID, coupon.Code)
	c.JSON(http.StatusOK, coupon)
}

func (h *Handler) GetCoupon(c *gin.Context) {
	coupon, err := h.registry.Get(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}

type listCouponsQuery struct {
	pagination.Pagination
	Active *bool `form:"active"`
}

func (h *Handler) ListCoupons(c *gin.Context) {
	var q listCouponsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, errutil.ValidationFailed("invalid pagination", err))
		return
	}

	coupons, pageInfo, err := h.registry.List(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), ListFilter{Active: q.Active}, q.Pagination)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons, "page_info": pageInfo})
}

func (h *Handler) SetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		coupon, err := h.registry.SetActive(c.Request.Context(),
			middleware.TenantFromContext(c.Request.Context()), c.Param("id"), active)
		if err != nil {
			abort(c, err)
			return
		}
		h.cache.Invalidate(coupon.TenantID, coupon.Code)
		c.JSON(http.StatusOK, coupon)
	}
}

type setServicesRequest struct {
	ServiceIDs []string `json:"service_ids" binding:"required,min=1"`
}

func (h *Handler) SetServices(c *gin.Context) {
	var req setServicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errutil.ValidationFailed("invalid request body", err))
		return
	}

	coupon, err := h.registry.SetServiceEligibility(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("id"), req.ServiceIDs)
	if err != nil {
		abort(c, err)
		return
	}
	h.cache.Invalidate(coupon.TenantID, coupon.Code)
	c.JSON(http.StatusOK, coupon)
}

func (h *Handler) Usage(c *gin.Context) {
	usage, err := h.svc.Usage(c.Request.Context(),
		middleware.TenantFromContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// abort translates domain errors into the transport error envelope before
// handing off to the error middleware.
func abort(c *gin.Context, err error) {
	var ineligible IneligibleError
	if errors.As(err, &ineligible) {
		err = errutil.UnprocessableEntity(ineligible.Error(), ineligible,
			errutil.WithDetails(errutil.Detail{Field: "reason", Message: string(ineligible.Reason)}))
	}

	var limit redemption.LimitExceededError
	if errors.As(err, &limit) {
		err = errutil.Conflict("this coupon is no longer available", limit,
			errutil.WithDetails(errutil.Detail{Field: "scope", Message: string(limit.Scope)}))
	}

	var expired redemption.AlreadyExpiredError
	if errors.As(err, &expired) {
		err = errutil.Conflict("reservation expired, validate the coupon again", expired)
	}

	_ = c.Error(err)
	c.Abort()
}
