package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driventa/quotation-service/internal/excel"
	"github.com/driventa/quotation-service/internal/http/middleware"
	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/service"
	"github.com/driventa/quotation-service/internal/status"
)

type Handler struct {
	quotations *service.QuotationService
	magicLinks *service.MagicLinkService
	audit      *excel.Generator
	log        zerolog.Logger
}

func NewHandler(
	quotations *service.QuotationService,
	magicLinks *service.MagicLinkService,
	audit *excel.Generator,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		quotations: quotations,
		magicLinks: magicLinks,
		audit:      audit,
		log:        log,
	}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/quotations")
	protected.Use(authMiddleware)
	protected.POST("", h.createQuotation)
	protected.GET("/:id", h.getQuotation)
	protected.PUT("/:id/items", h.updateItems)
	protected.POST("/:id/send", h.sendQuotation)
	protected.POST("/:id/approve", h.approveQuotation)
	protected.POST("/:id/reject", h.rejectQuotation)
	protected.POST("/:id/mark-paid", h.markPaid)
	protected.POST("/:id/convert", h.convertQuotation)
	protected.GET("/:id/notification-status", h.notificationStatus)
	protected.GET("/:id/activities", h.listActivities)
	protected.GET("/:id/activities/export", h.exportActivities)
	protected.GET("/:id/pdf", h.downloadPDF)
	protected.POST("/magic-links", h.issueMagicLink)
	protected.POST("/magic-links/simplified", h.issueSimplifiedMagicLink)

	// Customer-facing; the token is the only credential. The :ref route
	// serves the simplified URL shape keyed by display number.
	public := router.Group("/quote-access")
	public.GET("", h.accessQuotation)
	public.GET("/:ref", h.accessQuotationByRef)
	public.POST("/approve", h.customerApprove)
	public.POST("/reject", h.customerReject)
}

type itemRequest struct {
	Description         string   `json:"description"`
	ServiceTypeName     string   `json:"service_type_name"`
	UnitPrice           int64    `json:"unit_price"`
	Quantity            int      `json:"quantity"`
	ServiceDays         int      `json:"service_days" binding:"required"`
	HoursPerDay         *int     `json:"hours_per_day"`
	TimeBasedAdjustment *float64 `json:"time_based_adjustment"`
	TimeBasedRuleName   *string  `json:"time_based_rule_name"`
	SortOrder           int      `json:"sort_order"`
}

func (r itemRequest) toInput() service.ItemInput {
	return service.ItemInput{
		Description:         r.Description,
		ServiceTypeName:     r.ServiceTypeName,
		UnitPrice:           r.UnitPrice,
		Quantity:            r.Quantity,
		ServiceDays:         r.ServiceDays,
		HoursPerDay:         r.HoursPerDay,
		TimeBasedAdjustment: r.TimeBasedAdjustment,
		TimeBasedRuleName:   r.TimeBasedRuleName,
		SortOrder:           r.SortOrder,
	}
}

type createQuotationRequest struct {
	Title              string        `json:"title"`
	CustomerName       string        `json:"customer_name"`
	CustomerEmail      string        `json:"customer_email" binding:"required,email"`
	CustomerPhone      string        `json:"customer_phone"`
	Currency           string        `json:"currency"`
	DiscountPercentage float64       `json:"discount_percentage"`
	TaxPercentage      float64       `json:"tax_percentage"`
	Items              []itemRequest `json:"items" binding:"required"`
	PackageIDs         []string      `json:"package_ids"`
	PromotionCode      string        `json:"promotion_code"`
}

func (h *Handler) createQuotation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var req createQuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	packageIDs := make([]uuid.UUID, 0, len(req.PackageIDs))
	for _, raw := range req.PackageIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid package id", "code": "validation_error"})
			return
		}
		packageIDs = append(packageIDs, id)
	}

	items := make([]service.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.toInput())
	}

	quotation, err := h.quotations.Create(c.Request.Context(), service.CreateQuotationInput{
		Title:              req.Title,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		CustomerPhone:      req.CustomerPhone,
		Currency:           req.Currency,
		DiscountPercentage: req.DiscountPercentage,
		TaxPercentage:      req.TaxPercentage,
		Items:              items,
		PackageIDs:         packageIDs,
		PromotionCode:      req.PromotionCode,
		Principal:          principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.quotationPayload(quotation))
}

func (h *Handler) getQuotation(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	quotation, err := h.quotations.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.quotationPayload(quotation))
}

type updateItemsRequest struct {
	Items []itemRequest `json:"items" binding:"required"`
}

func (h *Handler) updateItems(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req updateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	items := make([]service.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.toInput())
	}

	quotation, err := h.quotations.UpdateItems(c.Request.Context(), id, principal, items)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.quotationPayload(quotation))
}

func (h *Handler) sendQuotation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	result, err := h.quotations.Send(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	message := "quotation sent"
	if result.Reminder {
		message = "reminder sent"
	}
	payload := gin.H{
		"success":    true,
		"message":    message,
		"email_sent": result.EmailSent,
	}
	if result.Warning != "" {
		payload["warning"] = result.Warning
	}
	c.JSON(http.StatusOK, payload)
}

type approveRequest struct {
	Notes     string `json:"notes"`
	Signature string `json:"signature"`
}

func (h *Handler) approveQuotation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req approveRequest
	_ = c.ShouldBindJSON(&req)

	quotation, err := h.quotations.Approve(c.Request.Context(), id, service.StaffActor(principal), service.ApproveInput{
		Notes:     req.Notes,
		Signature: req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.quotationPayload(quotation))
}

type rejectRequest struct {
	Reason    string `json:"rejected_reason" binding:"required"`
	Signature string `json:"signature"`
}

func (h *Handler) rejectQuotation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotation, err := h.quotations.Reject(c.Request.Context(), id, service.StaffActor(principal), service.RejectInput{
		Reason:    req.Reason,
		Signature: req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.quotationPayload(quotation))
}

type markPaidRequest struct {
	PaymentAmount int64  `json:"payment_amount" binding:"required"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) markPaid(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotation, err := h.quotations.MarkPaid(c.Request.Context(), id, principal, service.MarkPaidInput{
		PaymentAmount: req.PaymentAmount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.quotationPayload(quotation))
}

func (h *Handler) convertQuotation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	result, err := h.quotations.Convert(c.Request.Context(), id, principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	payload := gin.H{
		"success":         true,
		"booking_created": result.BookingCreated,
		"quotation":       h.quotationPayload(result.Quotation),
	}
	if result.Warning != "" {
		payload["warning"] = result.Warning
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handler) notificationStatus(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	result, err := h.quotations.NotificationStatus(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listActivities(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	activities, err := h.quotations.Activities(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

func (h *Handler) exportActivities(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	quotation, err := h.quotations.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	activities, err := h.quotations.Activities(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	content, err := h.audit.Generate(excel.AuditExport{
		Quotation:  *quotation,
		Display:    h.quotations.Display(quotation, time.Now().UTC()),
		Activities: activities,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	fileName := "quotation-audit-" + quotation.ID.String() + ".xlsx"
	c.Header("Content-Disposition", "attachment; filename=\""+fileName+"\"")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}

func (h *Handler) downloadPDF(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	content, fileName, err := h.quotations.RenderPDF(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+fileName+"\"")
	c.Data(http.StatusOK, "application/pdf", content)
}

type issueMagicLinkRequest struct {
	QuotationID    string `json:"quotation_id" binding:"required"`
	CustomerEmail  string `json:"customer_email" binding:"required"`
	ExpiresInHours int    `json:"expires_in_hours"`
}

func (h *Handler) issueMagicLink(c *gin.Context) {
	var req issueMagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotationID, err := uuid.Parse(strings.TrimSpace(req.QuotationID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation_id", "code": "validation_error"})
		return
	}

	result, err := h.magicLinks.Issue(c.Request.Context(), quotationID, req.CustomerEmail, req.ExpiresInHours)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"magic_link": result.URL,
		"expires_at": result.ExpiresAt.Format(time.RFC3339),
		"quotation": gin.H{
			"id":             result.Quotation.ID,
			"quote_number":   result.Quotation.QuoteNumber,
			"customer_name":  result.Quotation.CustomerName,
			"customer_email": result.Quotation.CustomerEmail,
		},
	})
}

type simplifiedMagicLinkRequest struct {
	QuotationID   string `json:"quotation_id" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"required"`
}

func (h *Handler) issueSimplifiedMagicLink(c *gin.Context) {
	var req simplifiedMagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotationID, err := uuid.Parse(strings.TrimSpace(req.QuotationID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation_id", "code": "validation_error"})
		return
	}

	result, err := h.magicLinks.IssueSimplified(c.Request.Context(), quotationID, req.CustomerEmail)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"magic_link": result.URL,
	})
}

// accessQuotation is the implicit validation on every customer-facing fetch.
func (h *Handler) accessQuotation(c *gin.Context) {
	token, quotationID, ok := h.parseAccess(c)
	if !ok {
		return
	}

	quotation, err := h.magicLinks.Validate(c.Request.Context(), token, quotationID)
	if err != nil {
		h.handleAccessError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quotation": h.quotationPayload(quotation)})
}

// accessQuotationByRef resolves the number-keyed URL shape; the token query
// param still carries the credential.
func (h *Handler) accessQuotationByRef(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required", "code": "validation_error"})
		return
	}
	number, ok := parseQuoteNumber(c.Param("ref"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation reference", "code": "validation_error"})
		return
	}

	quotation, err := h.magicLinks.ValidateByQuoteNumber(c.Request.Context(), token, number)
	if err != nil {
		h.handleAccessError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quotation": h.quotationPayload(quotation)})
}

type customerDecisionRequest struct {
	Token       string `json:"token" binding:"required"`
	QuotationID string `json:"quotation_id"`
	QuoteNumber string `json:"quote_number"`
	Notes       string `json:"notes"`
	Reason      string `json:"rejected_reason"`
	Signature   string `json:"signature"`
}

// validateCustomerAccess resolves the quotation behind a customer decision
// request, which may reference it by id or by display number.
func (h *Handler) validateCustomerAccess(c *gin.Context, req customerDecisionRequest) (*model.Quotation, bool) {
	switch {
	case strings.TrimSpace(req.QuotationID) != "":
		quotationID, err := uuid.Parse(strings.TrimSpace(req.QuotationID))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation_id", "code": "validation_error"})
			return nil, false
		}
		quotation, err := h.magicLinks.Validate(c.Request.Context(), req.Token, quotationID)
		if err != nil {
			h.handleAccessError(c, err)
			return nil, false
		}
		return quotation, true
	case strings.TrimSpace(req.QuoteNumber) != "":
		number, ok := parseQuoteNumber(req.QuoteNumber)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote_number", "code": "validation_error"})
			return nil, false
		}
		quotation, err := h.magicLinks.ValidateByQuoteNumber(c.Request.Context(), req.Token, number)
		if err != nil {
			h.handleAccessError(c, err)
			return nil, false
		}
		return quotation, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "quotation_id or quote_number is required", "code": "validation_error"})
		return nil, false
	}
}

func (h *Handler) customerApprove(c *gin.Context) {
	var req customerDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotation, ok := h.validateCustomerAccess(c, req)
	if !ok {
		return
	}

	quotation, err := h.quotations.Approve(c.Request.Context(), quotation.ID, service.CustomerActor(), service.ApproveInput{
		Notes:     req.Notes,
		Signature: req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quotation": h.quotationPayload(quotation)})
}

func (h *Handler) customerReject(c *gin.Context) {
	var req customerDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return
	}

	quotation, ok := h.validateCustomerAccess(c, req)
	if !ok {
		return
	}

	quotation, err := h.quotations.Reject(c.Request.Context(), quotation.ID, service.CustomerActor(), service.RejectInput{
		Reason:    req.Reason,
		Signature: req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quotation": h.quotationPayload(quotation)})
}

func (h *Handler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation id", "code": "validation_error"})
		return uuid.Nil, false
	}
	return id, true
}

// parseQuoteNumber accepts the display reference with or without the QUO-
// prefix.
func parseQuoteNumber(raw string) (int64, bool) {
	raw = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "QUO-")
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}

func (h *Handler) parseAccess(c *gin.Context) (string, uuid.UUID, bool) {
	token := strings.TrimSpace(c.Query("token"))
	rawID := strings.TrimSpace(c.Query("quotation_id"))
	if token == "" || rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and quotation_id are required", "code": "validation_error"})
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quotation_id", "code": "validation_error"})
		return "", uuid.Nil, false
	}
	return token, id, true
}

type quotationPayload struct {
	Quotation    *model.Quotation `json:"quotation"`
	Display      status.Display   `json:"display"`
	Totals       any              `json:"totals"`
	DaysLeft     int              `json:"days_remaining"`
	TotalDisplay string           `json:"total_display"`
}

func (h *Handler) quotationPayload(q *model.Quotation) quotationPayload {
	now := time.Now().UTC()
	totals := h.quotations.Totals(q)
	return quotationPayload{
		Quotation:    q,
		Display:      h.quotations.Display(q, now),
		Totals:       totals,
		DaysLeft:     h.quotations.Policy().DaysRemaining(q.CreatedAt, now),
		TotalDisplay: model.FormatMoney(totals.FinalTotal, q.Currency),
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "authorization_error"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "conflict"})
	case errors.Is(err, service.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "code": "expired"})
	case errors.Is(err, service.ErrDownstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "downstream_error"})
	default:
		h.log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal_error"})
	}
}

// handleAccessError maps link validation failures for the unauthenticated
// surface: an unknown token reads as 401, an expired one as 410.
func (h *Handler) handleAccessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid magic link", "code": "unauthorized"})
	case errors.Is(err, service.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "magic link has expired", "code": "expired"})
	default:
		h.log.Error().Err(err).Msg("magic link validation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal_error"})
	}
}
