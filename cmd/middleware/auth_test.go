package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func rsaKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key any, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func protectedEngine(v TokenVerifier) *gin.Engine {
	r := gin.New()
	r.GET("/api/v1/list/", RequireAuth(v, nil), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	return r
}

func call(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/list/", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestKeyVerifier(t *testing.T) {
	key, pub := rsaKey(t)
	v, err := NewKeyVerifier(pub)
	require.NoError(t, err)
	r := protectedEngine(v)

	valid := sign(t, key, jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec := call(r, "Bearer "+valid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())

	expired := sign(t, key, jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer "+expired).Code)

	noExp := sign(t, key, jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user-1"})
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer "+noExp).Code)

	other, _ := rsaKey(t)
	forged := sign(t, other, jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer "+forged).Code)

	hmac := sign(t, []byte("secret"), jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer "+hmac).Code)
}

func TestRequireAuth_HeaderShape(t *testing.T) {
	_, pub := rsaKey(t)
	v, err := NewKeyVerifier(pub)
	require.NoError(t, err)
	r := protectedEngine(v)

	rec := call(r, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing auth")

	rec = call(r, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid format")
}

func TestNewKeyVerifier_BareBase64(t *testing.T) {
	key, pub := rsaKey(t)
	body := strings.TrimSpace(pub)
	body = strings.TrimPrefix(body, "-----BEGIN PUBLIC KEY-----")
	body = strings.TrimSuffix(body, "-----END PUBLIC KEY-----")
	body = strings.ReplaceAll(body, "\n", "")

	v, err := NewKeyVerifier(body)
	require.NoError(t, err)

	tok := sign(t, key, jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	assert.Equal(t, http.StatusOK, call(protectedEngine(v), "Bearer "+tok).Code)

	_, err = NewKeyVerifier("not a key")
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	s := newLimiterSet(4)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	// burst of perMinute/2
	assert.True(t, s.allow("10.0.0.1"))
	assert.True(t, s.allow("10.0.0.1"))
	assert.False(t, s.allow("10.0.0.1"))
	assert.True(t, s.allow("10.0.0.2"), "limits are per client")

	now = now.Add(15 * time.Second)
	assert.True(t, s.allow("10.0.0.1"), "one token every 15s")

	now = now.Add(limiterTTL + time.Second)
	s.allow("10.0.0.3")
	assert.NotContains(t, s.byIP, "10.0.0.2", "idle clients are forgotten")
}

func TestRateLimit_Middleware(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(2), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
