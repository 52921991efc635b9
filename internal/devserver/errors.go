package devserver

import (
	"errors"
	"net/http"

	"vote-app-client/internal/platform/apperr"
)

func errorResponse(w http.ResponseWriter, err error) {
	appErr := mapError(err)
	if appErr.StatusCode() >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, appErr.StatusCode(), map[string]string{
		"error":   appErr.Code,
		"message": appErr.Message,
	})
}

func mapError(err error) *apperr.AppError {
	if err == nil {
		return apperr.Internal("internal_error", "internal server error", nil)
	}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrEmailTaken):
		return apperr.Conflict("email_taken", "Email is already registered", err)
	case errors.Is(err, ErrInvalidEmail):
		return apperr.BadRequest("invalid_email", "A valid email address is required", err)
	case errors.Is(err, ErrWeakPassword):
		return apperr.BadRequest("weak_password", "Password must be at least 6 characters", err)
	case errors.Is(err, ErrNameRequired):
		return apperr.BadRequest("name_required", "Name is required", err)
	case errors.Is(err, ErrInvalidCredentials):
		return apperr.Unauthorized("invalid_credentials", "Invalid email or password", err)
	case errors.Is(err, ErrInvalidResetToken):
		return apperr.BadRequest("invalid_reset_token", "Reset link is invalid or has already been used", err)
	case errors.Is(err, ErrRoomNotFound):
		return apperr.NotFound("room_not_found", "Room not found", err)
	case errors.Is(err, ErrNotOwner):
		return apperr.Forbidden("forbidden", "Only the room creator can do that", err)
	case errors.Is(err, ErrRoomExpired):
		return apperr.BadRequest("room_expired", "Voting has ended for this room", err)
	case errors.Is(err, ErrInvalidOption):
		return apperr.BadRequest("invalid_option", "Invalid option selected", err)
	case errors.Is(err, ErrAlreadyVoted):
		return apperr.Conflict(apperr.CodeAlreadyVoted, "You have already voted in this room", err)
	case errors.Is(err, ErrPhoneRequired):
		return apperr.BadRequest("phone_required", "A phone number is required for this room", err)
	case errors.Is(err, ErrNotAccredited):
		return apperr.Forbidden("not_accredited", "This phone number is not on the accredited voter list", err)
	case errors.Is(err, ErrNotVerified):
		return apperr.Forbidden("otp_required", "Verify your phone number before voting", err)
	case errors.Is(err, ErrOTPInvalid):
		return apperr.BadRequest("invalid_otp", "Invalid or expired code", err)
	case errors.Is(err, ErrAccreditationOff):
		return apperr.BadRequest("accreditation_disabled", "This room does not require accreditation", err)
	case errors.Is(err, ErrEmptyRoster):
		return apperr.BadRequest("roster_required", "At least one voter with a name and phone number is required", err)
	default:
		return apperr.Internal("internal_error", http.StatusText(http.StatusInternalServerError), err)
	}
}
