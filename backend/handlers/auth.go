package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultUsername = "admin"
	defaultPassword = "admin123!"

	maxFailedAttempts = 5
	lockoutDuration   = 5 * time.Minute
	tokenLifetime     = 24 * time.Hour
)

// LoginRequest struct
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
	}

	var op models.Operator
	err := h.DB.Where("username = ?", req.Username).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// With no operators at all, the default credentials create the first one.
		var count int64
		h.DB.Model(&models.Operator{}).Count(&count)
		if count == 0 && req.Username == defaultUsername && req.Password == defaultPassword {
			if err := h.seedOperator(req.Username, req.Password); err != nil {
				return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not login"})
			}
			return h.issueToken(c, req.Username)
		}
		system.Warn("Failed login attempt for unknown user: %s", req.Username)
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	} else if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	now := h.now()
	if op.LockedUntil != nil && now.Before(*op.LockedUntil) {
		minutes := int(op.LockedUntil.Sub(now).Minutes()) + 1
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": fmt.Sprintf("Account is locked. Try again in %d minutes.", minutes)})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.Password), []byte(req.Password)); err != nil {
		op.FailedAttempts++
		op.LastFailedAttempt = &now
		msg := "Invalid credentials"
		if op.FailedAttempts >= maxFailedAttempts {
			lockUntil := now.Add(lockoutDuration)
			op.LockedUntil = &lockUntil
			msg = "Account locked for 5 minutes"
		}
		h.DB.Save(&op)
		system.Warn("Failed login attempt for user: %s (attempt %d)", req.Username, op.FailedAttempts)
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": msg})
	}

	op.FailedAttempts = 0
	op.LockedUntil = nil
	h.DB.Save(&op)
	system.Info("User logged in: %s", req.Username)
	return h.issueToken(c, req.Username)
}

func (h *Handler) seedOperator(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	op := models.Operator{Username: username, Password: string(hashed)}
	if err := h.DB.Create(&op).Error; err != nil {
		system.Error("Failed to create default admin user: %v", err)
		return err
	}
	system.Info("Default admin login - Created persistent '%s' user", username)
	return nil
}

func (h *Handler) issueToken(c *fiber.Ctx, username string) error {
	claims := jwt.MapClaims{
		"user": username,
		"exp":  h.now().Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not login"})
	}
	AddEvent("success", "User logged in: "+username)
	return c.JSON(fiber.Map{"token": t})
}

// currentUser reads the username the middleware stored.
func currentUser(c *fiber.Ctx) string {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	name, _ := claims["user"].(string)
	return name
}

// ChangePassword handler
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	username := currentUser(c)

	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
	}
	if len(req.NewPassword) < 8 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "New password must be at least 8 characters"})
	}

	var op models.Operator
	if err := h.DB.Where("username = ?", username).First(&op).Error; err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.Password), []byte(req.OldPassword)); err != nil {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Incorrect old password"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not hash password"})
	}
	op.Password = string(hashed)
	op.FailedAttempts = 0
	op.LockedUntil = nil
	if err := h.DB.Save(&op).Error; err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	system.Info("User changed password: %s", username)

	return c.JSON(fiber.Map{"message": "Password updated"})
}

// JWTAuthMiddleware validates JWT token
func (h *Handler) JWTAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization format"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(http.StatusUnauthorized, "Invalid signing method")
			}
			return h.jwtSecret, nil
		})

		if err != nil || !token.Valid {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		c.Locals("user", token)

		return c.Next()
	}
}
