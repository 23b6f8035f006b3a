package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type ProfileHandler struct {
	s service.ProfileService
}

func NewProfileHandler(service service.ProfileService) *ProfileHandler {
	return &ProfileHandler{s: service}
}

func (h *ProfileHandler) CreateProfile(c *fiber.Ctx) error {
	var req transfer.CreateProfileRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	profile, err := h.s.Create(c.Context(), GetUserID(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

func (h *ProfileHandler) ListProfiles(c *fiber.Ctx) error {
	profiles, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if profiles == nil {
		profiles = []*models.Profile{}
	}
	return c.JSON(profiles)
}

func (h *ProfileHandler) RemoveProfile(c *fiber.Ctx) error {
	profileID, err := queryID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.s.Delete(c.Context(), GetUserID(c), profileID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
