package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
	"github.com/DorianValentino/eliteshred-dashboard/pkg/utils"
)

// AuthHandler issues coach tokens against the configured credentials.
// Client identity lives in the external onboarding system, which mints
// client tokens with the shared secret; this subsystem only validates them.
type AuthHandler struct {
	coachEmail        string
	coachPasswordHash string
	jwtSecret         string
}

func NewAuthHandler(coachEmail, coachPasswordHash, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		coachEmail:        strings.ToLower(coachEmail),
		coachPasswordHash: coachPasswordHash,
		jwtSecret:         jwtSecret,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.coachEmail == "" || h.coachPasswordHash == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Login is not configured"})
	}

	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != h.coachEmail || !utils.CheckPassword(req.Password, h.coachPasswordHash) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	token, err := utils.GenerateToken("0", string(models.RoleCoach), h.jwtSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue token"})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"role":  models.RoleCoach,
	})
}
