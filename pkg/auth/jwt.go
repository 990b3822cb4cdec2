package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("无效的令牌")

// TokenClaims 自定义声明：用户ID + 是否管理员
type TokenClaims struct {
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTManager 管理令牌的签发与校验
type JWTManager struct {
	signingKey []byte
	tokenTTL   time.Duration
}

func NewJWTManager(signingKey string, tokenTTL time.Duration) *JWTManager {
	return &JWTManager{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
	}
}

// GenerateToken 签发令牌（登录由外部身份服务负责，这里只为内部联调和测试提供签发能力）
func (m *JWTManager) GenerateToken(userID int64, isAdmin bool) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "steamshop",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// ParseToken 校验令牌并取出声明
func (m *JWTManager) ParseToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名方法: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
