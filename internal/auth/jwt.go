package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	Role     string   `json:"role"`
	StoreIDs []string `json:"store_ids,omitempty"`
	CityID   string   `json:"city_id,omitempty"`
	ZoneID   string   `json:"zone_id,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs an HS256 token for the actor. The service itself never
// logs anyone in; this is used by tooling and tests.
func (a *Authenticator) IssueToken(actor Actor, ttl time.Duration) (string, error) {
	storeIDs := make([]string, 0, len(actor.StoreIDs))
	for _, id := range actor.StoreIDs {
		storeIDs = append(storeIDs, id.String())
	}

	now := time.Now()
	claims := Claims{
		Role:     actor.Role.String(),
		StoreIDs: storeIDs,
		CityID:   actor.CityID,
		ZoneID:   actor.ZoneID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(tokenString string) (Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	role := permission.Role(claims.Role)
	if !role.Valid() {
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	actor := Actor{ID: id, Role: role, CityID: claims.CityID, ZoneID: claims.ZoneID}
	for _, raw := range claims.StoreIDs {
		storeID, err := uuid.FromString(raw)
		if err != nil {
			return Actor{}, fmt.Errorf("%w: store id %q is not a uuid", ErrInvalidToken, raw)
		}
		actor.StoreIDs = append(actor.StoreIDs, storeID)
	}

	return actor, nil
}

// Middleware resolves the actor from "Authorization: Bearer <token>" or,
// for websocket upgrades, from the "token" query parameter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := tokenFromRequest(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		actor, err := a.Parse(tokenString)
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: rejected token")
			writeUnauthorized(w, ErrInvalidToken.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func tokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", errors.New("unauthorized")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid token format")
	}
	return parts[1], nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
