package handlers

import (
	"net/http"
	"strings"

	"ids-dashboard/backend/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

func (h *Handler) GetUsers(c *fiber.Ctx) error {
	var users []models.Operator
	if result := h.DB.Order("id").Find(&users); result.Error != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": result.Error.Error()})
	}
	return c.JSON(users)
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || len(input.Password) < 8 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Username and a password of at least 8 characters are required"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Could not hash password"})
	}
	user := models.Operator{Username: input.Username, Password: string(hashed)}
	if result := h.DB.Create(&user); result.Error != nil {
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": result.Error.Error()})
	}
	AddEvent("info", "Operator created: "+user.Username)
	return c.JSON(fiber.Map{"message": "User created", "user": user.Username})
}

func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	var user models.Operator
	if err := h.DB.First(&user, id).Error; err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}
	if user.Username == currentUser(c) {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Cannot delete the logged-in user"})
	}
	if result := h.DB.Delete(&user); result.Error != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": result.Error.Error()})
	}
	AddEvent("warning", "Operator deleted: "+user.Username)
	return c.JSON(fiber.Map{"message": "User deleted"})
}
