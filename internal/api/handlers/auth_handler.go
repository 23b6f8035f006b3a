package handlers

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const loginStateCookie = "crosspost_login_state"

type AuthHandler struct {
	s   service.AuthService
	cfg *config.Config
}

func NewAuthHandler(cfg *config.Config, service service.AuthService) *AuthHandler {
	return &AuthHandler{s: service, cfg: cfg}
}

// Login starts the Google sign-in. The state nonce lives in a short cookie
// and is compared on the way back.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	state, err := utils.GenerateRandomKey(16)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     loginStateCookie,
		Value:    state,
		HTTPOnly: true,
		Secure:   h.secure(),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/login",
		Expires:  time.Now().Add(h.cfg.StateTTL.Duration),
	})

	return c.Redirect(h.s.LoginURL(state))
}

func (h *AuthHandler) LoginCallbackHandler(c *fiber.Ctx) error {
	want := c.Cookies(loginStateCookie)
	got := c.Query("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return errorResponse(c, apperror.ErrStateMismatch)
	}
	h.clearCookie(c, loginStateCookie, "/login")

	userID, err := h.s.LoginCallback(c.Context(), c.Query("code"))
	if err != nil {
		return errorResponse(c, err)
	}

	token, err := h.s.IssueSession(userID)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		HTTPOnly: true,
		Secure:   h.secure(),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
		Expires:  time.Now().Add(service.SessionDuration),
	})

	return c.Redirect(h.cfg.Server.FrontendURL, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.clearCookie(c, h.cfg.CookieName, "/")
	return c.JSON(fiber.Map{"success": true})
}

func (h *AuthHandler) clearCookie(c *fiber.Ctx, name, path string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		HTTPOnly: true,
		Path:     path,
		MaxAge:   -1,
	})
}

func (h *AuthHandler) secure() bool {
	return h.cfg.Env == "production"
}
