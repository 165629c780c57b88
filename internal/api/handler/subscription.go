package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/model/dto"
	"github.com/qs3c/vpn_access_server/internal/pkg/response"
	"github.com/qs3c/vpn_access_server/internal/service"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
	catalog             *service.PlanCatalog
	log                 zerolog.Logger
	now                 func() time.Time
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService, catalog *service.PlanCatalog, log zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		catalog:             catalog,
		log:                 log.With().Str("component", "payment_api").Logger(),
		now:                 time.Now,
	}
}

// ConfirmPayment 确认支付并开通/续期
// POST /api/v1/payments
func (h *SubscriptionHandler) ConfirmPayment(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	log := h.log.With().
		Str("external_key", req.ExternalKey).
		Int("months", req.MonthsPaid).
		Time("occurred_at", req.OccurredAt).
		Logger()

	if err := h.catalog.Check(req.MonthsPaid); err != nil {
		log.Warn().Err(err).Msg("payment rejected")
		response.InvalidPlanError(c, err.Error())
		return
	}

	// 窗口按处理时刻计算，occurred_at 只记录日志
	result, err := h.subscriptionService.ApplyPayment(c.Request.Context(), req.ExternalKey, req.MonthsPaid, h.now().UTC())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	log.Info().Bool("created", result.Created).Msg("payment confirmed")

	sub := result.Subscriber
	response.SuccessWithMessage(c, "支付已入账", dto.PaymentResponse{
		ExternalKey:  sub.ExternalKey,
		ActivatedAt:  sub.ActivatedAt,
		ExpiresAt:    sub.ExpiresAt,
		ArtifactPath: sub.ArtifactPath,
		Created:      result.Created,
	})
}

// GetStatus 查询订阅状态
// GET /api/v1/subscribers/:key
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	sub, err := h.subscriptionService.GetStatus(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, toStatus(sub, h.now()))
}

// List 订阅列表
// GET /api/v1/subscribers
func (h *SubscriptionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	subs, total, err := h.subscriptionService.ListSubscribers(c.Request.Context(), page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	now := h.now()
	items := make([]dto.SubscriberStatus, 0, len(subs))
	for _, sub := range subs {
		items = append(items, toStatus(sub, now))
	}
	response.SuccessPage(c, total, page, pageSize, items)
}

// ListPlans 套餐列表
// GET /api/v1/plans
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	plans := h.catalog.Plans()
	items := make([]dto.PlanItem, 0, len(plans))
	for _, p := range plans {
		items = append(items, dto.PlanItem{Months: p.Months, Price: p.Price})
	}
	response.Success(c, dto.PlanListResponse{Plans: items})
}

func toStatus(sub *model.Subscriber, now time.Time) dto.SubscriberStatus {
	return dto.SubscriberStatus{
		ExternalKey:  sub.ExternalKey,
		Active:       sub.IsActive(now),
		ActivatedAt:  sub.ActivatedAt,
		ExpiresAt:    sub.ExpiresAt,
		ExpiresOn:    sub.ExpiresAt.UTC().Format(time.DateOnly),
		ArtifactPath: sub.ArtifactPath,
	}
}

// writeServiceError 将业务错误映射为响应码
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidKey):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInvalidPlan):
		response.InvalidPlanError(c, err.Error())
	case errors.Is(err, service.ErrSubscriberNotFound):
		response.NotFoundError(c, "订阅不存在")
	case errors.Is(err, service.ErrProvisioningFailed):
		response.ProvisionError(c, "")
	case service.IsRetryable(err):
		response.RetryLaterError(c, "")
	default:
		_ = c.Error(err)
		response.ServerError(c, "")
	}
}
