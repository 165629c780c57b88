package handler

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qs3c/vpn_access_server/internal/model/dto"
	"github.com/qs3c/vpn_access_server/internal/pkg/cron"
	"github.com/qs3c/vpn_access_server/internal/pkg/response"
	"github.com/qs3c/vpn_access_server/internal/service"
)

type SweepHandler struct {
	sweepService *service.SweepService
	scheduler    *cron.Service
	now          func() time.Time
}

func NewSweepHandler(sweepService *service.SweepService, scheduler *cron.Service) *SweepHandler {
	return &SweepHandler{
		sweepService: sweepService,
		scheduler:    scheduler,
		now:          time.Now,
	}
}

// Run 手动触发过期扫描，dry_run 时只列出将被封禁的订阅
// POST /api/v1/sweep
func (h *SweepHandler) Run(c *gin.Context) {
	var req dto.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ParamError(c, err.Error())
		return
	}

	if req.DryRun {
		expired, err := h.sweepService.Preview(c.Request.Context(), h.now().UTC())
		if err != nil {
			writeServiceError(c, err)
			return
		}
		keys := make([]string, 0, len(expired))
		for _, sub := range expired {
			keys = append(keys, sub.ExternalKey)
		}
		response.Success(c, dto.SweepResponse{
			RunID:   uuid.NewString(),
			DryRun:  true,
			Expired: len(expired),
			Keys:    keys,
		})
		return
	}

	report, err := h.scheduler.RunNow(c.Request.Context())
	if err != nil {
		if errors.Is(err, cron.ErrSweepRunning) {
			response.DuplicateError(c, "扫描正在进行中")
			return
		}
		writeServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "扫描完成", toSweepResponse(report))
}

func toSweepResponse(report *service.SweepReport) dto.SweepResponse {
	resp := dto.SweepResponse{
		RunID:    report.RunID,
		Scanned:  report.Scanned,
		Expired:  report.Expired,
		Blocked:  report.Blocked,
		Skipped:  report.Skipped,
		Notified: report.Notified,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, dto.SweepFailure{
			ExternalKey: f.ExternalKey,
			Step:        f.Step,
			Error:       f.Err.Error(),
		})
	}
	return resp
}
