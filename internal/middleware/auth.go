// Package middleware holds the HTTP middleware of the chat API.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/service/auth"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
	"github.com/shutterhub/backend/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "auth_user_id"

// TokenCookie is the cookie checked when no bearer token is sent.
const TokenCookie = "token"

// UserID returns the authenticated user id stored by Authenticate.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID stores an authenticated user id, for handler tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return logging.WithUserID(ctx, userID)
}

// Authenticate verifies the caller's token. The token is read from the
// Authorization bearer header, then the token cookie, then a "token" field of
// a JSON body, then the token query parameter. A missing token is 403, an
// invalid one 401.
func Authenticate(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				rejectAuth(w, r, auth.ErrTokenRequired)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				if !errors.Is(err, auth.ErrTokenInvalid) {
					err = errors.Join(auth.ErrTokenInvalid, err)
				}
				rejectAuth(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := tokenFromBody(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// maxTokenBody bounds how much of a body is buffered to look for a token.
const maxTokenBody = 1 << 20

// tokenFromBody reads the "token" field of a JSON body and restores the body
// for the handler.
func tokenFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		return ""
	}

	body := r.Body
	raw, err := io.ReadAll(io.LimitReader(body, maxTokenBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), body), body}
	if err != nil || len(raw) > maxTokenBody {
		return ""
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Token)
}

func rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Info().Err(err).Str("component", "chat-http").Str("path", r.URL.Path).Msg("request rejected by auth")
	utils.RespondError(w, chatservice.HTTPStatus(err), chatservice.PublicMessage(err), string(chatservice.Classify(err)))
}
