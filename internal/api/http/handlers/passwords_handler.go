package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/service"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// PasswordsHandler exposes the password reset flow.
type PasswordsHandler struct {
	accounts *service.AccountService
}

// NewPasswordsHandler constructs handler.
func NewPasswordsHandler(accountService *service.AccountService) *PasswordsHandler {
	return &PasswordsHandler{accounts: accountService}
}

// Forgot handles POST /auth/forgotPassword.
func (h *PasswordsHandler) Forgot(c *fiber.Ctx) error {
	var req dto.EmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.accounts.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return err
	}

	return c.JSON(dto.MessageResponse{Message: "Password reset email sent"})
}

// Reset handles POST /auth/resetPassword.
func (h *PasswordsHandler) Reset(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.accounts.ResetPassword(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(dto.MessageResponse{Message: "Password has been reset"})
}
