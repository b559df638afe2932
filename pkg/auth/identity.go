package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/store/keys"

	"github.com/valyala/fasthttp"
)

// IdentityProvider turns a connection token into a user id. Identity is
// issued elsewhere; this service only verifies.
type IdentityProvider interface {
	Resolve(token string) (string, error)
}

// HMACProvider accepts tokens of the form "<user_id>.<hex hmac-sha256 of
// user_id>" signed with any of the configured keys, so keys can be rotated.
type HMACProvider struct {
	keys [][]byte
}

func NewHMACProvider(signingKeys []string) *HMACProvider {
	p := &HMACProvider{}
	for _, k := range signingKeys {
		if k != "" {
			p.keys = append(p.keys, []byte(k))
		}
	}
	return p
}

// Sign issues a token for userID with key.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return userID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (p *HMACProvider) Resolve(token string) (string, error) {
	const op = "auth.resolve"
	if len(p.keys) == 0 {
		return "", apperr.New(apperr.KindUnauthenticated, op, "no signing keys configured")
	}
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return "", apperr.New(apperr.KindUnauthenticated, op, "malformed token")
	}
	userID, sig := token[:i], token[i+1:]
	if err := keys.ValidateID("user", userID); err != nil || len(userID) > 128 {
		return "", apperr.New(apperr.KindUnauthenticated, op, "invalid user id in token")
	}
	for _, k := range p.keys {
		mac := hmac.New(sha256.New, k)
		mac.Write([]byte(userID))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return userID, nil
		}
	}
	return "", apperr.New(apperr.KindUnauthenticated, op, "invalid token signature")
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// the token query parameter for websocket clients that cannot set headers.
func TokenFromRequest(ctx *fasthttp.RequestCtx) string {
	h := string(ctx.Request.Header.Peek("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(string(ctx.QueryArgs().Peek("token")))
}

type ctxUserKey struct{}

// UserFrom returns the user id the middleware attached to the request.
func UserFrom(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUser attaches a resolved user id to the request.
func WithUser(ctx *fasthttp.RequestCtx, userID string) {
	ctx.SetUserValue(ctxUserKey{}, userID)
}
