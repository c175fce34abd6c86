package chat

import (
	"errors"
	"net/http"

	"github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/service/auth"
	"github.com/shutterhub/backend/internal/validation"
)

var (
	ErrParticipantRequired = errors.New("participant id is required")
	ErrSelfConversation    = errors.New("cannot start a chat with yourself")
	ErrNothingToUpdate     = errors.New("provide content or markAsRead")
	ErrEditForbidden       = errors.New("not authorized to update this message")
	ErrDeleteForbidden     = errors.New("not authorized to delete this message")
)

// Category is the transport-independent class of a failed operation.
type Category string

const (
	CategoryValidation     Category = "validation_error"
	CategoryAuthentication Category = "authentication_error"
	CategoryAuthorization  Category = "authorization_error"
	CategoryNotFound       Category = "not_found"
	CategoryUnexpected     Category = "unexpected_error"
)

// Classify maps err onto the error taxonomy. Anything unknown is unexpected.
func Classify(err error) Category {
	var invalid *validation.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return CategoryValidation
	case errors.Is(err, chat.ErrInvalidKind),
		errors.Is(err, chat.ErrContentRequired),
		errors.Is(err, chat.ErrPhotoRequired),
		errors.Is(err, chat.ErrBundleRequired),
		errors.Is(err, ErrParticipantRequired),
		errors.Is(err, ErrSelfConversation),
		errors.Is(err, ErrNothingToUpdate):
		return CategoryValidation
	case errors.Is(err, auth.ErrTokenRequired), errors.Is(err, auth.ErrTokenInvalid):
		return CategoryAuthentication
	case errors.Is(err, ErrEditForbidden),
		errors.Is(err, ErrDeleteForbidden),
		errors.Is(err, chat.ErrNotAuthor):
		return CategoryAuthorization
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrMessageNotFound):
		return CategoryNotFound
	default:
		return CategoryUnexpected
	}
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		if errors.Is(err, auth.ErrTokenRequired) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryNotFound:
		return http.StatusNotFound
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. Unexpected errors are not
// echoed since they may carry store internals.
func PublicMessage(err error) string {
	if Classify(err) == CategoryUnexpected {
		return "internal server error"
	}
	// report the sentinel, not the wrapping context
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

var publicErrors = []error{
	chat.ErrInvalidKind,
	chat.ErrContentRequired,
	chat.ErrPhotoRequired,
	chat.ErrBundleRequired,
	chat.ErrConversationNotFound,
	chat.ErrMessageNotFound,
	ErrParticipantRequired,
	ErrSelfConversation,
	ErrNothingToUpdate,
	ErrEditForbidden,
	ErrDeleteForbidden,
	auth.ErrTokenRequired,
	auth.ErrTokenInvalid,
}
