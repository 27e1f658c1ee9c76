package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

var errUnauthenticated = errors.New("missing or invalid token")

type actorClaims struct {
	UserID       int64    `json:"uid"`
	RestaurantID int64    `json:"restaurant_id"`
	Roles        []string `json:"roles"`
	jwt.StandardClaims
}

// Authenticator verifies HS256 tokens issued by the identity service and
// turns their claims into an Actor.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Actor(token string) (domain.Actor, error) {
	var claims actorClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Actor{}, errUnauthenticated
	}
	if claims.UserID <= 0 {
		return domain.Actor{}, errUnauthenticated
	}

	actor := domain.Actor{ID: claims.UserID, RestaurantID: claims.RestaurantID}
	for _, r := range claims.Roles {
		if role := domain.Role(r); role.Valid() {
			actor.Roles = append(actor.Roles, role)
		}
	}
	if len(actor.Roles) == 0 {
		return domain.Actor{}, errUnauthenticated
	}
	return actor, nil
}

// Issue signs a token for actor. The engine only verifies tokens; Issue
// exists for tooling and tests.
func (a *Authenticator) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	roles := make([]string, len(actor.Roles))
	for i, r := range actor.Roles {
		roles[i] = string(r)
	}
	claims := actorClaims{
		UserID:       actor.ID,
		RestaurantID: actor.RestaurantID,
		Roles:        roles,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(ttl).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// authenticate rejects requests without a valid bearer token. Browsers
// cannot set headers on a websocket handshake, so a token query parameter
// is accepted as well.
func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		actor, err := h.auth.Actor(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Success: false, Code: "unauthenticated", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}
