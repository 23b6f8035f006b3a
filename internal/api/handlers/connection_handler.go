package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type ConnectionHandler struct {
	s service.ConnectionService
}

func NewConnectionHandler(service service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{s: service}
}

func platformParam(c *fiber.Ctx) (models.Platform, error) {
	p, err := models.ParsePlatform(c.Params("platform"))
	if err != nil {
		return "", apperror.Wrap(apperror.KindNotSupported, err, "platform is not supported")
	}
	return p, nil
}

func (h *ConnectionHandler) Initiate(c *fiber.Ctx) error {
	platform, err := platformParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req transfer.InitiateConnectionRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.Initiate(c.Context(), GetUserID(c), platform, req.ProfileID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

func (h *ConnectionHandler) Complete(c *fiber.Ctx) error {
	platform, err := platformParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req transfer.CompleteConnectionRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.Complete(c.Context(), GetUserID(c), platform, &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

func (h *ConnectionHandler) ListAccounts(c *fiber.Ctx) error {
	profileID, err := queryID(c, "profile_id")
	if err != nil {
		return errorResponse(c, err)
	}

	accounts, err := h.s.List(c.Context(), GetUserID(c), profileID)
	if err != nil {
		return errorResponse(c, err)
	}
	if accounts == nil {
		accounts = []*models.ConnectedAccount{}
	}
	return c.JSON(accounts)
}

func (h *ConnectionHandler) RemoveAccount(c *fiber.Ctx) error {
	accountID, err := queryID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.s.Disconnect(c.Context(), GetUserID(c), accountID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *ConnectionHandler) ValidateAccount(c *fiber.Ctx) error {
	accountID, err := queryID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	valid, err := h.s.Validate(c.Context(), GetUserID(c), accountID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"valid": valid})
}
