package internal

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// Verifier 憑證驗證
//
// 驗證成功返回憑證所屬的玩家名稱
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier HMAC 簽章的 JWT 驗證器
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier 創建 JWT 驗證器
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify 驗證 bearer token 並取出玩家名稱
func (v *JWTVerifier) Verify(token string) (string, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return "", apperrors.ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.ErrUnauthenticated.WithDetails("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apperrors.ErrUnauthenticated
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", apperrors.ErrUnauthenticated.WithDetails("missing subject")
	}
	return subject, nil
}

// IssueToken 簽發玩家憑證，測試與本機開發用
func IssueToken(secret, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
