package dto

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and profile fields.
type LoginResponse struct {
	Token          string  `json:"token"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	GithubUsername *string `json:"githubUsername"`
}

// EmailRequest payload for the flows addressed by email.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest payload for consuming a reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ConfirmEmailRequest payload for consuming a confirmation token.
type ConfirmEmailRequest struct {
	Token string `json:"token"`
}

// MessageResponse is the generic success body.
type MessageResponse struct {
	Message string `json:"message"`
}
