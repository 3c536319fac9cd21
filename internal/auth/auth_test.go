package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messenger/internal/models"

	"github.com/gin-gonic/gin"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"near bcrypt limit", "a" + string(make([]byte, 70)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSessionToken_Unique(t *testing.T) {
	a, b := NewSessionToken(), NewSessionToken()
	if a == "" || a == b {
		t.Errorf("NewSessionToken() = %q, %q; want distinct non-empty tokens", a, b)
	}
	if len(a) != 36 {
		t.Errorf("NewSessionToken() length = %d, want 36", len(a))
	}
}

func TestParseInviteToken(t *testing.T) {
	secret := "invite-secret"
	valid, err := GenerateInviteToken(3, 42, 7, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateInviteToken() error = %v", err)
	}
	expired, err := GenerateInviteToken(3, 42, 7, secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateInviteToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{"valid token", valid, secret, false},
		{"wrong secret", valid, "other", true},
		{"expired", expired, secret, true},
		{"garbage", "invalid.token.here", secret, true},
		{"empty", "", secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseInviteToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInviteToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInvite) {
					t.Errorf("ParseInviteToken() error = %v, want ErrInvalidInvite", err)
				}
				return
			}
			if claims.RoomID != 3 || claims.UserID != 42 || claims.Inviter != 7 {
				t.Errorf("claims = %+v, want room 3 user 42 inviter 7", claims)
			}
		})
	}
}

type fakeSessions struct {
	tokens map[string]uint
	users  map[uint]*models.User
}

func (f fakeSessions) Resolve(_ context.Context, token string) (uint, error) {
	id, ok := f.tokens[token]
	if !ok {
		return 0, errors.New("no session")
	}
	return id, nil
}

func (f fakeSessions) UserByID(_ context.Context, id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("no user")
	}
	return u, nil
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := fakeSessions{
		tokens: map[string]uint{"good": 1, "admin": 2, "orphan": 9},
		users: map[uint]*models.User{
			1: {ID: 1, Username: "neo", Role: models.RoleUser},
			2: {ID: 2, Username: "root", Role: models.RoleAdmin},
		},
	}
	r := gin.New()
	r.GET("/me", AuthMiddleware(sessions), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetUserID(c), "session": GetSessionID(c)})
	})
	r.GET("/admin", AuthMiddleware(sessions), AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"not bearer", "/me", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"session without user", "/me", "Bearer orphan", http.StatusUnauthorized},
		{"valid", "/me", "Bearer good", http.StatusOK},
		{"lowercase scheme", "/me", "bearer good", http.StatusOK},
		{"admin route as user", "/admin", "Bearer good", http.StatusForbidden},
		{"admin route as admin", "/admin", "Bearer admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
