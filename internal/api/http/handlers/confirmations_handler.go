package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/service"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// ConfirmationsHandler exposes the email confirmation flow.
type ConfirmationsHandler struct {
	accounts *service.AccountService
}

// NewConfirmationsHandler constructs handler.
func NewConfirmationsHandler(accountService *service.AccountService) *ConfirmationsHandler {
	return &ConfirmationsHandler{accounts: accountService}
}

// Confirm handles POST /auth/confirmEmail.
func (h *ConfirmationsHandler) Confirm(c *fiber.Ctx) error {
	var req dto.ConfirmEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.accounts.ConfirmEmail(c.UserContext(), req.Token); err != nil {
		return err
	}

	return c.JSON(dto.MessageResponse{Message: "Email has been confirmed"})
}

// Resend handles POST /auth/sendConfirmationEmail.
func (h *ConfirmationsHandler) Resend(c *fiber.Ctx) error {
	var req dto.EmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.accounts.ResendConfirmation(c.UserContext(), req.Email); err != nil {
		return err
	}

	return c.JSON(dto.MessageResponse{Message: "Confirmation email sent"})
}
