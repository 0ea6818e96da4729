// Package adminapi implements C12: an HTTP control-plane for an
// skdp-server process, adapted from this repo's handlers/middleware
// packages' gorilla/mux router, golang-jwt/v5 bearer authentication, and
// rs/cors configuration, but exposing key management and session
// introspection instead of chat endpoints.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/QRCS-CORP/SKDP-sub001/internal/config"
	"github.com/QRCS-CORP/SKDP-sub001/internal/metrics"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

type contextKey string

const claimsKey contextKey = "admin_claims"

// Claims identifies the operator principal carried in an admin API bearer
// token.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// SessionSummary is the introspectable view of one live session, reported
// by whatever component tracks the server's active session.State values.
type SessionSummary struct {
	KID         string    `json:"kid"`
	Suite       string    `json:"suite"`
	Phase       string    `json:"phase"`
	TXSeq       uint64    `json:"tx_seq"`
	RXSeq       uint64    `json:"rx_seq"`
	EstablishAt time.Time `json:"established_at"`
}

// MasterKeyStore supplies the master key needed to derive new server keys,
// and persists derived server keys for the keystore package to serve later.
type MasterKeyStore interface {
	Master() (*keys.MasterKey, profile.Params)
	SaveServerKey(sk *keys.ServerKey) error
}

// SessionLister reports the server's currently tracked sessions.
type SessionLister interface {
	ListSessions() []SessionSummary
}

// API is the admin HTTP server: key management, session introspection, and
// the liveness endpoint Consul's health check (C13) polls.
type API struct {
	Router   *mux.Router
	Keys     MasterKeyStore
	Sessions SessionLister
	logger   *log.Logger
}

// New builds the admin API router, wiring the handlers below and the
// bearer-token middleware on the /api/v1 routes. CORS is added by Handler;
// the admin API applies no rate limiting.
func New(keyStore MasterKeyStore, sessions SessionLister) *API {
	a := &API{
		Router:   mux.NewRouter(),
		Keys:     keyStore,
		Sessions: sessions,
		logger:   log.New(os.Stdout, "[ADMIN-API] ", log.Ldate|log.Ltime|log.LUTC),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.Router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.Router.Handle("/metrics", metrics.Handler()).Methods("GET")

	protected := a.Router.PathPrefix("/api/v1").Subrouter()
	protected.Use(a.requireToken)

	protected.HandleFunc("/keys/server", a.generateServerKey).Methods("POST")
	protected.HandleFunc("/sessions", a.listSessions).Methods("GET")
}

// Handler returns the fully wrapped root handler, CORS applied last so it
// sees both public and protected routes.
func (a *API) Handler(allowedOrigins []string) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(metrics.MetricsMiddleware(a.Router))
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requireToken validates a Bearer token against both the current and
// previous admin token secrets, matching the dual-key rotation window
// config.GetAllActiveSecrets exposes.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := parseToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				http.Error(w, "token expired", http.StatusUnauthorized)
			} else {
				http.Error(w, "invalid token", http.StatusUnauthorized)
			}
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext extracts the authenticated operator's claims, for
// handlers that need to attribute an action.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

func parseToken(tokenString string) (*Claims, error) {
	current, previous, hasPrevious := config.GetAllActiveSecrets()
	if current == "" {
		return nil, fmt.Errorf("adminapi: token secret not initialized")
	}

	claims := &Claims{}
	keyfunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("adminapi: unexpected signing method %v", token.Header["alg"])
		}
		return []byte(current), nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, keyfunc)
	if err == nil && token.Valid {
		return claims, nil
	}
	if !hasPrevious {
		return nil, err
	}

	claims = &Claims{}
	_, prevErr := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(previous), nil
	})
	if prevErr != nil {
		return nil, err
	}
	return claims, nil
}

type generateServerKeyRequest struct {
	ServerID string `json:"server_id"`
}

type generateServerKeyResponse struct {
	KID string `json:"kid"`
}

func (a *API) generateServerKey(w http.ResponseWriter, r *http.Request) {
	var req generateServerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	master, _ := a.Keys.Master()
	if master == nil {
		http.Error(w, "no master key loaded", http.StatusServiceUnavailable)
		return
	}

	var sid [profile.SIDSize]byte
	copy(sid[:], []byte(req.ServerID))
	kid := keys.NewKID(toMIDArray(master.KID.MID()), sid, [profile.DIDSize]byte{})

	sk, err := keys.DeriveServerKey(master, kid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.Keys.SaveServerKey(sk); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RecordKeyDerivation("server")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(generateServerKeyResponse{KID: fmt.Sprintf("%x", sk.KID[:])})
}

func toMIDArray(mid []byte) [profile.MIDSize]byte {
	var out [profile.MIDSize]byte
	copy(out[:], mid)
	return out
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.Sessions.ListSessions()
	metrics.SetActiveSessions(len(sessions))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}
