// Package handler содержит HTTP-обработчики вебхуков и авторизации сервиса
// синхронизации спонсорств.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/middleware"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
	"github.com/mmeshcher/sponsorlink-system/internal/repository"
	"github.com/mmeshcher/sponsorlink-system/internal/service"
	"github.com/mmeshcher/sponsorlink-system/internal/validation"
)

// Разовое спонсорство действует 30 дней с момента создания.
const oneTimeSponsorshipDays = 30

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Authorize(ctx context.Context, kind model.AppKind, code string) error
	AppInstall(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error
	AppSuspend(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error
	AppUnsuspend(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error
	AppUninstall(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error
	Sponsor(ctx context.Context, sponsorable, sponsor model.AccountID, amount int64, expiresAt *time.Time, note string) error
	SponsorUpdate(ctx context.Context, sponsorable, sponsor model.AccountID, amount int64, note string) error
	Unsponsor(ctx context.Context, sponsorable, sponsor model.AccountID, note string) error
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики сервиса синхронизации спонсорств.
type Handler struct {
	service     Service
	logger      *zap.Logger
	metrics     *metrics.Metrics
	signature   *middleware.SignatureMiddleware
	redirectURL string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, m *metrics.Metrics, sig *middleware.SignatureMiddleware, redirectURL string) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		metrics:     m,
		signature:   sig,
		redirectURL: redirectURL,
	}
}

type accountPayload struct {
	NodeID string `json:"node_id"`
	Login  string `json:"login"`
}

func (a accountPayload) id() model.AccountID {
	return model.AccountID{ID: a.NodeID, Login: a.Login}
}

func (a accountPayload) valid() bool {
	return validation.IsValidAccountID(a.NodeID) && validation.IsValidLogin(a.Login)
}

type appWebhookRequest struct {
	Action       string `json:"action"`
	Installation struct {
		Account accountPayload `json:"account"`
	} `json:"installation"`
	Sender accountPayload `json:"sender"`
}

// AppWebhook обрабатывает вебхук жизненного цикла установки приложения.
func (h *Handler) AppWebhook(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req appWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.metrics.WebhooksReceived.WithLabelValues("app", req.Action).Inc()

	if !req.Installation.Account.valid() {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	account := req.Installation.Account.id()
	note := fmt.Sprintf("App %s %s on %s by %s", kind, req.Action, account.Login, req.Sender.Login)

	var err error
	switch req.Action {
	case "created":
		err = h.service.AppInstall(r.Context(), kind, account, note)
	case "suspend":
		err = h.service.AppSuspend(r.Context(), kind, account, note)
	case "unsuspend":
		err = h.service.AppUnsuspend(r.Context(), kind, account, note)
	case "deleted":
		err = h.service.AppUninstall(r.Context(), kind, account, note)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		h.writeServiceError(w, err, "app webhook", account.Login)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type sponsorsWebhookRequest struct {
	Action      string `json:"action"`
	Sponsorship struct {
		Sponsorable accountPayload `json:"sponsorable"`
		Sponsor     accountPayload `json:"sponsor"`
		CreatedAt   time.Time      `json:"created_at"`
		Tier        struct {
			MonthlyPriceInDollars int64 `json:"monthly_price_in_dollars"`
			IsOneTime             bool  `json:"is_one_time"`
		} `json:"tier"`
	} `json:"sponsorship"`
	// EffectiveDate приходит только с отменой и означает дату прекращения.
	EffectiveDate string `json:"effective_date"`
	Changes       struct {
		Tier struct {
			From struct {
				MonthlyPriceInDollars int64 `json:"monthly_price_in_dollars"`
			} `json:"from"`
		} `json:"tier"`
	} `json:"changes"`
	Sender accountPayload `json:"sender"`
}

// SponsorsWebhook обрабатывает вебхук жизненного цикла спонсорства.
func (h *Handler) SponsorsWebhook(w http.ResponseWriter, r *http.Request) {
	var req sponsorsWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.metrics.WebhooksReceived.WithLabelValues("sponsors", req.Action).Inc()

	if !req.Sponsorship.Sponsorable.valid() || !req.Sponsorship.Sponsor.valid() {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	sponsorable := req.Sponsorship.Sponsorable.id()
	sponsor := req.Sponsorship.Sponsor.id()
	amount := req.Sponsorship.Tier.MonthlyPriceInDollars

	var err error
	switch req.Action {
	case "created":
		var expiresAt *time.Time
		note := fmt.Sprintf("%s started sponsoring %s with $%d", sponsor.Login, sponsorable.Login, amount)
		if req.Sponsorship.Tier.IsOneTime {
			expires := model.DateOnly(req.Sponsorship.CreatedAt.AddDate(0, 0, oneTimeSponsorshipDays))
			expiresAt = &expires
			note += " (one-time)"
		}
		err = h.service.Sponsor(r.Context(), sponsorable, sponsor, amount, expiresAt, note)
	case "tier_changed":
		note := fmt.Sprintf("%s changed sponsorship of %s from $%d to $%d",
			sponsor.Login, sponsorable.Login, req.Changes.Tier.From.MonthlyPriceInDollars, amount)
		err = h.service.SponsorUpdate(r.Context(), sponsorable, sponsor, amount, note)
	case "pending_cancellation":
		note := fmt.Sprintf("%s cancelled sponsorship of %s effective %s",
			sponsor.Login, sponsorable.Login, req.EffectiveDate)
		err = h.service.Unsponsor(r.Context(), sponsorable, sponsor, note)
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err != nil {
		h.writeServiceError(w, err, "sponsors webhook", sponsorable.Login)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Authorize завершает авторизацию пользователя: обменивает код и перенаправляет
// на настроенную страницу.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.metrics.AuthorizeRequests.Inc()

	if err := h.service.Authorize(r.Context(), kind, code); err != nil {
		h.logger.Error("authorize error", zap.Error(err), zap.String("kind", string(kind)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if h.redirectURL != "" {
		http.Redirect(w, r, h.redirectURL, http.StatusFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Ping подтверждает работоспособность сервиса и потока событий.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("ping error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op, login string) {
	switch {
	case errors.Is(err, service.ErrAdminAppMissing),
		errors.Is(err, service.ErrAdminAppSuspended),
		errors.Is(err, service.ErrOperatorNotSponsored):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, repository.ErrInstallationNotFound):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op+" error", zap.Error(err), zap.String("login", login))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func parseKind(raw string) (model.AppKind, bool) {
	switch model.AppKind(raw) {
	case model.AppKindSponsor:
		return model.AppKindSponsor, true
	case model.AppKindSponsorable:
		return model.AppKindSponsorable, true
	}
	return "", false
}
