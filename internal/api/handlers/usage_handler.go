package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type UsageHandler struct {
	s service.QuotaService
}

func NewUsageHandler(service service.QuotaService) *UsageHandler {
	return &UsageHandler{s: service}
}

func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	usage, err := h.s.Usage(c.Context(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(usage)
}

// CheckQuota answers whether an action of the given weight fits the user's
// tier. A refusal is still a 200; the result says why.
func (h *UsageHandler) CheckQuota(c *fiber.Ctx) error {
	var req transfer.QuotaRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.Check(c.Context(), GetUserID(c), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// RecordUsage charges an AI generation. A refusal carries the same result
// body as CheckQuota with 429, or 402 when an upgrade would help.
func (h *UsageHandler) RecordUsage(c *fiber.Ctx) error {
	var req transfer.QuotaRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.Consume(c.Context(), GetUserID(c), req)
	if err != nil {
		return errorResponse(c, err)
	}
	if !res.Allowed {
		status := fiber.StatusTooManyRequests
		if res.UpgradeRequired {
			status = fiber.StatusPaymentRequired
		}
		return c.Status(status).JSON(res)
	}
	return c.JSON(res)
}
