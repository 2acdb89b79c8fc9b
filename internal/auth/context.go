package auth

import (
	"context"
	"errors"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

var (
	ErrNoUser      = errors.New("user not found in context")
	ErrEmptyUserID = errors.New("user id is empty")
)

type userKey struct{}

// UserContext сотрудник магазина, выполняющий запрос
type UserContext struct {
	UserID     string
	ShopDomain string
	TokenID    string
}

func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func GetUser(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userKey{}).(*UserContext)
	if !ok || user == nil {
		return nil, ErrNoUser
	}
	if user.UserID == "" {
		return nil, ErrEmptyUserID
	}
	return user, nil
}

// Actor возвращает пользователя запроса; актор пакета сохранения всегда берется отсюда
func Actor(ctx context.Context) (string, error) {
	user, err := GetUser(ctx)
	if err != nil {
		return "", err
	}
	return user.UserID, nil
}

// ApplyTo проставляет в AuditContext актора из токена, а источник и время только если клиент их не передал
func (u *UserContext) ApplyTo(actx *models.AuditContext, now time.Time) {
	actx.ActorID = u.UserID
	if actx.Source == nil && u.ShopDomain != "" {
		source := u.ShopDomain
		actx.Source = &source
	}
	if actx.Timestamp.IsZero() {
		actx.Timestamp = now.UTC()
	}
}
