package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type MediaHandler struct {
	s service.MediaService
}

func NewMediaHandler(service service.MediaService) *MediaHandler {
	return &MediaHandler{s: service}
}

func (h *MediaHandler) UploadURL(c *fiber.Ctx) error {
	var req transfer.UploadURLRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.UploadURL(c.Context(), GetUserID(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}
