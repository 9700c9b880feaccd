package github

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

// serviceTokenTTL — срок жизни сервисного токена; платформа ограничивает его десятью минутами.
const serviceTokenTTL = 9 * time.Minute

type appKey struct {
	appID string
	key   *rsa.PrivateKey
}

// TokenIssuer выпускает сервисные JWT для обращения к API от имени приложения.
type TokenIssuer struct {
	apps map[model.AppKind]appKey
	now  func() time.Time
}

// NewTokenIssuer создаёт пустой эмитент сервисных токенов.
func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{
		apps: make(map[model.AppKind]appKey),
		now:  time.Now,
	}
}

// AddApp регистрирует приложение указанного вида с закрытым ключом в формате PEM.
func (i *TokenIssuer) AddApp(kind model.AppKind, appID string, pemKey []byte) error {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return fmt.Errorf("parse private key for %s app: %w", kind, err)
	}

	i.apps[kind] = appKey{appID: appID, key: key}
	return nil
}

// IssueServiceToken выпускает подписанный RS256 токен приложения указанного вида.
func (i *TokenIssuer) IssueServiceToken(kind model.AppKind) (string, error) {
	app, ok := i.apps[kind]
	if !ok {
		return "", fmt.Errorf("no app key configured for kind %q", kind)
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer: app.appID,
		// Минута назад — на случай расхождения часов с платформой.
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(app.key)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	return signed, nil
}
