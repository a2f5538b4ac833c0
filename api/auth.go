package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/reward-engine/generic"
)

// Principal is the authenticated caller. For back-office users Subject is
// the supervisor ID; for storefront customers it is the customer ID.
type Principal struct {
	Subject string
	Email   string
	Role    generic.Role
}

// IsStaff reports whether the caller is an admin or supervisor.
func (p Principal) IsStaff() bool {
	return p.Role == generic.RoleAdmin || p.Role == generic.RoleSupervisor
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller set by Authenticator.Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Claims is the access token payload.
type Claims struct {
	Email     string       `json:"email,omitempty"`
	Role      generic.Role `json:"role"`
	TokenType string       `json:"token_type"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 access tokens and checks
// supervisor passwords.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  generic.SupervisorStore
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, users generic.SupervisorStore) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}
}

// IssueToken signs an access token for subject.
func (a *Authenticator) IssueToken(subject, email string, role generic.Role) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:     email,
		Role:      role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Verify parses a token and returns its principal.
func (a *Authenticator) Verify(token string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return Principal{}, generic.ErrUnauthorized
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return Principal{}, generic.ErrUnauthorized
	}
	switch claims.Role {
	case generic.RoleAdmin, generic.RoleSupervisor, generic.RoleCustomer:
	default:
		return Principal{}, generic.ErrUnauthorized
	}
	return Principal{Subject: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Login checks a supervisor's credentials. Unknown emails, inactive
// accounts and wrong passwords all return ErrUnauthorized.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*generic.Supervisor, string, time.Time, error) {
	sup, err := a.users.GetSupervisorByEmail(ctx, email)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if sup == nil || !sup.IsActive {
		return nil, "", time.Time{}, generic.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(sup.PasswordHash), []byte(password)); err != nil {
		return nil, "", time.Time{}, generic.ErrUnauthorized
	}
	token, exp, err := a.IssueToken(string(sup.ID), sup.Email, sup.Role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return sup, token, exp, nil
}

// BootstrapAdmin creates an admin supervisor when none exists for email.
// It reports whether an account was created.
func BootstrapAdmin(ctx context.Context, users generic.SupervisorStore, email, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return false, nil
	}
	existing, err := users.GetSupervisorByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	err = users.SaveSupervisor(ctx, generic.Supervisor{
		ID:           generic.SupervisorID(ulid.Make().String()),
		Name:         "Administrator",
		Email:        email,
		PasswordHash: string(hash),
		Role:         generic.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// Middleware validates the bearer token and stores the principal.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		p, err := a.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireRole ensures the caller has one of the allowed roles.
func RequireRole(roles ...generic.Role) func(http.Handler) http.Handler {
	allowed := make(map[generic.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				writeError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorizeCustomer lets staff through and customers only for their own id.
func authorizeCustomer(ctx context.Context, customerID generic.CustomerID) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return generic.ErrUnauthorized
	}
	if p.IsStaff() || (p.Role == generic.RoleCustomer && p.Subject == string(customerID)) {
		return nil
	}
	return generic.ErrForbidden
}

// actorID is the principal subject, or empty without one.
func actorID(ctx context.Context) string {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ""
	}
	return p.Subject
}
