package handlers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/service"
	"go.uber.org/zap"
)

var validate = validator.New()

func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

// parseBody decodes the JSON body into out and runs its validate tags.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Wrap(apperror.KindInvalid, err, "invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return apperror.Wrap(apperror.KindInvalid, err, "invalid request")
	}
	return nil
}

func queryID(c *fiber.Ctx, key string) (int64, error) {
	id, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.New(apperror.KindInvalid, "%s must be a positive integer", key)
	}
	return id, nil
}

var kindStatus = map[apperror.Kind]int{
	apperror.KindStateMismatch:        fiber.StatusBadRequest,
	apperror.KindTokenExchangeFailure: fiber.StatusBadGateway,
	apperror.KindMissingCredential:    fiber.StatusUnprocessableEntity,
	apperror.KindInsufficientScope:    fiber.StatusForbidden,
	apperror.KindMediaUnreachable:     fiber.StatusUnprocessableEntity,
	apperror.KindVendorPublishFailure: fiber.StatusBadGateway,
	apperror.KindQuotaExceeded:        fiber.StatusTooManyRequests,
	apperror.KindSchedulingTooSoon:    fiber.StatusUnprocessableEntity,
	apperror.KindTooManyItems:         fiber.StatusUnprocessableEntity,
	apperror.KindNotSupported:         fiber.StatusBadRequest,
	apperror.KindNotFound:             fiber.StatusNotFound,
	apperror.KindInvalid:              fiber.StatusBadRequest,
}

func statusFor(err error) int {
	var pe *service.PublishError
	if errors.As(err, &pe) {
		for _, f := range pe.Failures {
			switch apperror.KindOf(f.Err) {
			case apperror.KindVendorPublishFailure, "":
				return fiber.StatusBadGateway
			}
		}
		return fiber.StatusUnprocessableEntity
	}

	ae, ok := apperror.As(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	if ae.Kind == apperror.KindQuotaExceeded && ae.UpgradeRequired {
		return fiber.StatusPaymentRequired
	}
	if status, ok := kindStatus[ae.Kind]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// errorResponse renders err as {"error": ...}. Quota errors also carry
// upgradeRequired so the client can offer an upgrade instead of a retry.
func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}

	var pe *service.PublishError
	if errors.As(err, &pe) {
		failures := make([]fiber.Map, 0, len(pe.Failures))
		for _, f := range pe.Failures {
			failures = append(failures, fiber.Map{
				"accountId": f.AccountID,
				"platform":  f.Platform,
				"kind":      apperror.KindOf(f.Err),
				"error":     f.Err.Error(),
			})
		}
		body["failures"] = failures
	} else if ae, ok := apperror.As(err); ok {
		body["kind"] = ae.Kind
		if ae.Kind == apperror.KindQuotaExceeded {
			body["upgradeRequired"] = ae.UpgradeRequired
		}
	}

	if status == fiber.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		body["error"] = "something went wrong"
	}

	return c.Status(status).JSON(body)
}
