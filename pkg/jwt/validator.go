package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
)

// CustomClaims утверждения токена сессии приложения; Subject - идентификатор сотрудника магазина
type CustomClaims struct {
	jwt.RegisteredClaims
	ShopDomain string `json:"shop"`
}

// RevocationChecker проверяет, отозван ли токен по jti
type RevocationChecker interface {
	IsJWTRevoked(ctx context.Context, jti string) (bool, error)
}

type Validator struct {
	publicKey    *rsa.PublicKey
	publicKeyURL string
	revocation   RevocationChecker
	httpClient   *http.Client
	mu           sync.RWMutex
	cacheTTL     time.Duration
	fetchedAt    time.Time
}

// NewValidator создает валидатор; revocation может быть nil, если Redis отключен
func NewValidator(publicKeyURL string, revocation RevocationChecker, cacheTTL time.Duration) *Validator {
	return &Validator{
		publicKeyURL: publicKeyURL,
		revocation:   revocation,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL:     cacheTTL,
	}
}

// NewValidatorWithKey создает валидатор с уже известным ключом
func NewValidatorWithKey(publicKey *rsa.PublicKey, revocation RevocationChecker) *Validator {
	return &Validator{
		publicKey:  publicKey,
		revocation: revocation,
		fetchedAt:  time.Now(),
	}
}

// SetHTTPTimeout задает таймаут загрузки публичного ключа
func (v *Validator) SetHTTPTimeout(timeout time.Duration) {
	if timeout > 0 {
		v.httpClient = &http.Client{Timeout: timeout}
	}
}

func (v *Validator) Initialize(ctx context.Context) error {
	publicKey, err := v.fetchPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch public key: %w", err)
	}

	v.mu.Lock()
	v.publicKey = publicKey
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	logger.Info("JWT validator initialized with public key from auth service")
	return nil
}

func (v *Validator) fetchPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.publicKeyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := v.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	keyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}

	return publicKey, nil
}

func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*CustomClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	tokenString = strings.TrimSpace(tokenString)

	v.mu.RLock()
	publicKey := v.publicKey
	v.mu.RUnlock()

	if publicKey == nil {
		return nil, fmt.Errorf("public key not initialized")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("missing jti claim")
	}

	if v.revocation != nil {
		revoked, err := v.revocation.IsJWTRevoked(ctx, claims.ID)
		if err != nil {
			logger.Error("Failed to check token revocation", zap.Error(err))
			// В случае ошибки Redis продолжаем - не блокируем пользователей
		} else if revoked {
			return nil, fmt.Errorf("token has been revoked")
		}
	}

	return claims, nil
}

func (v *Validator) RefreshPublicKey(ctx context.Context) error {
	publicKey, err := v.fetchPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh public key: %w", err)
	}

	v.mu.Lock()
	v.publicKey = publicKey
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	logger.Info("JWT public key refreshed")
	return nil
}

// NeedsRefresh true, если ключ старше cacheTTL
func (v *Validator) NeedsRefresh() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.publicKey == nil {
		return true
	}
	return v.cacheTTL > 0 && time.Since(v.fetchedAt) > v.cacheTTL
}

// StartRefresh периодически обновляет публичный ключ до отмены ctx
func (v *Validator) StartRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.RefreshPublicKey(ctx); err != nil {
				logger.Warn("Failed to refresh JWT public key", zap.Error(err))
			}
		}
	}
}

func (v *Validator) GetPublicKey() *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.publicKey
}
