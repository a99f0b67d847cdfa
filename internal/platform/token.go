package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingCredentials 平台API密钥未配置
var ErrMissingCredentials = errors.New("platform api key/secret not configured")

// DefaultTokenTTL 房间令牌默认有效期
const DefaultTokenTTL = 6 * time.Hour

// Config 媒体平台接入配置
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// VideoGrant 房间访问授权
type VideoGrant struct {
	RoomJoin     bool   `json:"roomJoin"`
	Room         string `json:"room"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// grantClaims 房间令牌的JWT声明
type grantClaims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

// Issuer 为接受转接的坐席签发房间访问令牌。
// 令牌是HS256签名的JWT，身份放在sub，房间授权放在video声明里。
type Issuer struct {
	cfg Config
}

// NewIssuer 创建令牌签发器
func NewIssuer(cfg Config) *Issuer {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Issuer{cfg: cfg}
}

// URL 平台接入地址，随令牌一起返回给坐席端
func (i *Issuer) URL() string {
	return i.cfg.URL
}

// MintRoomToken 为identity签发加入room的令牌，可发布可订阅
func (i *Issuer) MintRoomToken(identity, name, room string) (string, error) {
	if i.cfg.APIKey == "" || i.cfg.APISecret == "" {
		return "", ErrMissingCredentials
	}

	now := time.Now()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.APIKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TokenTTL)),
		},
		Name: name,
		Video: VideoGrant{
			RoomJoin:     true,
			Room:         room,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign room token failed: %w", err)
	}

	return signed, nil
}
