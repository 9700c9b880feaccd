// Package event содержит доменные события сервиса и поток их доставки.
//
// События описывают уже совершившиеся изменения состояния и несут идентификаторы,
// достаточные для безопасного повторного воспроизведения. Доставка — «выстрелил
// и забыл», не реже одного раза; потребители обязаны быть идемпотентными.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

// Stream описывает исходящий канал доменных событий.
type Stream interface {
	Push(ctx context.Context, e Event) error
}

// Event реализуется всеми доменными событиями.
type Event interface {
	EventType() string
}

// UserAuthorized сообщает о завершённой авторизации пользователя.
type UserAuthorized struct {
	AccountID string        `json:"account_id"`
	Login     string        `json:"login"`
	Kind      model.AppKind `json:"kind"`
}

// AppInstalled сообщает об установке приложения.
type AppInstalled struct {
	AccountID string        `json:"account_id"`
	Login     string        `json:"login"`
	Kind      model.AppKind `json:"kind"`
	Note      string        `json:"note,omitempty"`
}

// AppSuspended сообщает о приостановке установки приложения.
type AppSuspended struct {
	AccountID string        `json:"account_id"`
	Login     string        `json:"login"`
	Kind      model.AppKind `json:"kind"`
	Note      string        `json:"note,omitempty"`
}

// AppUnsuspended сообщает о возобновлении установки приложения.
type AppUnsuspended struct {
	AccountID string        `json:"account_id"`
	Login     string        `json:"login"`
	Kind      model.AppKind `json:"kind"`
	Note      string        `json:"note,omitempty"`
}

// AppUninstalled сообщает об удалении установки приложения.
type AppUninstalled struct {
	AccountID string        `json:"account_id"`
	Login     string        `json:"login"`
	Kind      model.AppKind `json:"kind"`
	Note      string        `json:"note,omitempty"`
}

// SponsorshipCreated сообщает о новом спонсорстве.
type SponsorshipCreated struct {
	SponsorableID string     `json:"sponsorable_id"`
	SponsorID     string     `json:"sponsor_id"`
	Amount        int64      `json:"amount"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Note          string     `json:"note,omitempty"`
}

// SponsorshipChanged сообщает об изменении суммы спонсорства.
type SponsorshipChanged struct {
	SponsorableID string `json:"sponsorable_id"`
	SponsorID     string `json:"sponsor_id"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note,omitempty"`
}

// SponsorshipCancelled сообщает об отмене спонсорства.
type SponsorshipCancelled struct {
	SponsorableID string `json:"sponsorable_id"`
	SponsorID     string `json:"sponsor_id"`
	Note          string `json:"note,omitempty"`
}

// UserRefreshPending запрашивает отложенную сверку одного спонсора.
// SponsorableID ограничивает сверку одним получателем; пустое значение — все.
type UserRefreshPending struct {
	AccountID     string `json:"account_id"`
	Login         string `json:"login"`
	Attempt       int    `json:"attempt"`
	SponsorableID string `json:"sponsorable_id,omitempty"`
	Unregister    bool   `json:"unregister,omitempty"`
	Note          string `json:"note,omitempty"`
}

// PingCompleted подтверждает работоспособность потока событий.
type PingCompleted struct {
	When time.Time `json:"when"`
}

func (UserAuthorized) EventType() string       { return "user_authorized" }
func (AppInstalled) EventType() string         { return "app_installed" }
func (AppSuspended) EventType() string         { return "app_suspended" }
func (AppUnsuspended) EventType() string       { return "app_unsuspended" }
func (AppUninstalled) EventType() string       { return "app_uninstalled" }
func (SponsorshipCreated) EventType() string   { return "sponsorship_created" }
func (SponsorshipChanged) EventType() string   { return "sponsorship_changed" }
func (SponsorshipCancelled) EventType() string { return "sponsorship_cancelled" }
func (UserRefreshPending) EventType() string   { return "user_refresh_pending" }
func (PingCompleted) EventType() string        { return "ping_completed" }

// Marshal сериализует событие в JSON-полезную нагрузку без типа.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.EventType(), err)
	}
	return data, nil
}

// Unmarshal восстанавливает событие по имени типа и полезной нагрузке.
func Unmarshal(eventType string, data []byte) (Event, error) {
	var e Event

	switch eventType {
	case "user_authorized":
		e = &UserAuthorized{}
	case "app_installed":
		e = &AppInstalled{}
	case "app_suspended":
		e = &AppSuspended{}
	case "app_unsuspended":
		e = &AppUnsuspended{}
	case "app_uninstalled":
		e = &AppUninstalled{}
	case "sponsorship_created":
		e = &SponsorshipCreated{}
	case "sponsorship_changed":
		e = &SponsorshipChanged{}
	case "sponsorship_cancelled":
		e = &SponsorshipCancelled{}
	case "user_refresh_pending":
		e = &UserRefreshPending{}
	case "ping_completed":
		e = &PingCompleted{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("unmarshal %s event: %w", eventType, err)
	}

	return e, nil
}
