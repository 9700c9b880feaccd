// Package model содержит доменные сущности сервиса sponsorlink.
package model

import "time"

// AccountID идентифицирует аккаунт платформы: непрозрачный идентификатор и логин.
// Сравнение аккаунтов выполняется по полю ID.
type AccountID struct {
	ID    string `json:"node_id"`
	Login string `json:"login"`
}

// AppKind описывает роль приложения, к которой относится установка.
type AppKind string

const (
	AppKindSponsor     AppKind = "sponsor"
	AppKindSponsorable AppKind = "sponsorable"
)

// AppState описывает состояние установки приложения для аккаунта.
type AppState string

const (
	AppStateInstalled AppState = "installed"
	AppStateSuspended AppState = "suspended"
	// AppStateDeleted — терминальное состояние: запись об установке не удаляется,
	// повторная установка создаёт новую логическую запись.
	AppStateDeleted AppState = "deleted"
)

// Installation описывает установку приложения одного вида для одного аккаунта.
type Installation struct {
	AccountID string
	Login     string
	State     AppState
	Token     string
}

// Authorization создаётся после завершения пользователем OAuth-авторизации.
type Authorization struct {
	AccountID   string
	Login       string
	AccessToken string
}

// Sponsorship описывает факт спонсорства пары (sponsorable, sponsor).
// ExpiresAt заполняется только для разовых (one-time) спонсорств.
// Expired — «надгробный» флаг: он никогда не снимается, благодаря чему
// отмены идемпотентны и повторяемы.
type Sponsorship struct {
	SponsorableID    string
	SponsorableLogin string
	SponsorID        string
	SponsorLogin     string
	Amount           int64
	ExpiresAt        *time.Time
	Expired          bool
}

// Expiration описывает запланированное истечение разового спонсорства.
// Логины денормализованы для диагностики.
type Expiration struct {
	RowKey           string
	SponsorableLogin string
	SponsorLogin     string
}

// Account содержит денормализованные данные аккаунта для рассылок.
type Account struct {
	ID    string
	Login string
	Email string
}

// DateOnly обрезает время до даты в UTC. Даты истечения и корзины
// планировщика всегда сравниваются с точностью до дня.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey форматирует дату для ключа корзины планировщика истечений.
func DateKey(t time.Time) string {
	return DateOnly(t).Format("2006-01-02")
}

// ExpirationRowKey формирует ключ записи об истечении: "{sponsorableId}|{sponsorId}".
func ExpirationRowKey(sponsorableID, sponsorID string) string {
	return sponsorableID + "|" + sponsorID
}
