package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.CreatePostRequest
	if err := parseBody(c, &req); err != nil {
		return errorResponse(c, err)
	}

	res, err := h.s.CreateOrSchedulePost(c.Context(), GetUserID(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// ListPosts returns one post with its targets when ?id= is set, otherwise
// the user's recent posts.
func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	if postID := c.QueryInt("id", 0); postID != 0 {
		post, err := h.s.Get(c.Context(), userID, int64(postID))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(post)
	}

	posts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return c.JSON(posts)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	postID, err := queryID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.s.Remove(c.Context(), GetUserID(c), postID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
