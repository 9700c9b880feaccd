// Package service реализует бизнес-логику синхронизации спонсорств и установок.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/sponsorlink-system/internal/event"
	"github.com/mmeshcher/sponsorlink-system/internal/github"
	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
	"github.com/mmeshcher/sponsorlink-system/internal/registry"
	"github.com/mmeshcher/sponsorlink-system/internal/repository"
)

// ErrAdminAppMissing возвращается, если у получателя не установлено админ-приложение.
var (
	ErrAdminAppMissing = errors.New("admin app is not installed")
	// ErrAdminAppSuspended возвращается, если получатель приостановил админ-приложение.
	ErrAdminAppSuspended = errors.New("admin app is suspended")
	// ErrOperatorNotSponsored возвращается, если у получателя нет активного
	// спонсорства аккаунта оператора платформы.
	ErrOperatorNotSponsored = errors.New("active sponsorship of the operator account is required")
)

// Repository описывает контракт хранилища фактов, используемый сервисом.
type Repository interface {
	Close() error
	SaveInstallation(ctx context.Context, kind model.AppKind, inst model.Installation) error
	GetInstallation(ctx context.Context, kind model.AppKind, accountID string) (*model.Installation, error)
	ListInstallations(ctx context.Context, kind model.AppKind) ([]model.Installation, error)
	SaveAuthorization(ctx context.Context, auth model.Authorization) error
	GetAuthorization(ctx context.Context, accountID string) (*model.Authorization, error)
	PutSponsorship(ctx context.Context, partition, rowKey string, s model.Sponsorship) error
	GetSponsorship(ctx context.Context, partition, rowKey string) (*model.Sponsorship, error)
	ListSponsorships(ctx context.Context, partition string) ([]model.Sponsorship, error)
	PutExpiration(ctx context.Context, bucket time.Time, e model.Expiration) error
	DeleteExpiration(ctx context.Context, bucket time.Time, rowKey string) error
	ListExpirations(ctx context.Context, bucket time.Time) ([]model.Expiration, error)
	SaveAccount(ctx context.Context, acc model.Account) error
}

// GitHubClient описывает контракт клиента платформы аккаунтов.
type GitHubClient interface {
	ExchangeCode(ctx context.Context, kind model.AppKind, code string) (string, error)
	CurrentUser(ctx context.Context, accessToken string) (*github.User, error)
	GetUser(ctx context.Context, accessToken, login string) (*github.User, error)
	ListEmails(ctx context.Context, accessToken string) ([]github.Email, error)
	ListOrganizations(ctx context.Context, accessToken string) ([]model.AccountID, error)
}

// Config содержит параметры предметной области сервиса.
type Config struct {
	// Operator — аккаунт оператора платформы. Каждый получатель обязан
	// поддерживать его активное спонсорство; сам оператор освобождён от проверки.
	Operator model.AccountID
	// Aliases — таблица псевдонимов: членство в организации-ключе дополнительно
	// учитывается как членство в организации-значении.
	Aliases map[string]model.AccountID
}

// Service содержит бизнес-логику синхронизации спонсорств.
type Service struct {
	repo     Repository
	client   GitHubClient
	registry registry.Registry
	events   event.Stream
	logger   *zap.Logger
	metrics  *metrics.Metrics

	operator model.AccountID
	aliases  map[string]model.AccountID

	now      func() time.Time
	newToken func() string
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, client GitHubClient, reg registry.Registry, events event.Stream, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		repo:     repo,
		client:   client,
		registry: reg,
		events:   events,
		logger:   logger,
		metrics:  m,
		operator: cfg.Operator,
		aliases:  cfg.Aliases,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Authorize обменивает код авторизации на токен, сохраняет авторизацию
// пользователя и откладывает его сверку. Сверка выполняется асинхронно:
// порядок доставки вебхуков установки и авторизации не гарантирован.
func (s *Service) Authorize(ctx context.Context, kind model.AppKind, code string) error {
	accessToken, err := s.client.ExchangeCode(ctx, kind, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	user, err := s.client.CurrentUser(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("resolve authorized user: %w", err)
	}

	err = s.repo.SaveAuthorization(ctx, model.Authorization{
		AccountID:   user.NodeID,
		Login:       user.Login,
		AccessToken: accessToken,
	})
	if err != nil {
		return err
	}

	if err := s.events.Push(ctx, &event.UserAuthorized{AccountID: user.NodeID, Login: user.Login, Kind: kind}); err != nil {
		return err
	}

	return s.events.Push(ctx, &event.UserRefreshPending{
		AccountID: user.NodeID,
		Login:     user.Login,
		Note:      "user authorized",
	})
}

// FindApp возвращает установку приложения для аккаунта либо nil, если её нет.
func (s *Service) FindApp(ctx context.Context, kind model.AppKind, account model.AccountID) (*model.Installation, error) {
	inst, err := s.repo.GetInstallation(ctx, kind, account.ID)
	if errors.Is(err, repository.ErrInstallationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// ListApps возвращает все установки приложения указанного вида.
func (s *Service) ListApps(ctx context.Context, kind model.AppKind) ([]model.Installation, error) {
	return s.repo.ListInstallations(ctx, kind)
}

// AppInstall регистрирует установку приложения с новым токеном установки.
// Повторная установка перезаписывает предыдущую запись целиком.
func (s *Service) AppInstall(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error {
	inst := model.Installation{
		AccountID: account.ID,
		Login:     account.Login,
		State:     model.AppStateInstalled,
		Token:     s.newToken(),
	}

	if err := s.repo.SaveInstallation(ctx, kind, inst); err != nil {
		return err
	}

	return s.events.Push(ctx, &event.AppInstalled{AccountID: account.ID, Login: account.Login, Kind: kind, Note: note})
}

// AppSuspend приостанавливает установку приложения и запускает каскадную сверку.
func (s *Service) AppSuspend(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error {
	if err := s.changeState(ctx, kind, account, model.AppStateSuspended); err != nil {
		return err
	}

	if err := s.events.Push(ctx, &event.AppSuspended{AccountID: account.ID, Login: account.Login, Kind: kind, Note: note}); err != nil {
		return err
	}

	switch kind {
	case model.AppKindSponsor:
		return s.events.Push(ctx, &event.UserRefreshPending{
			AccountID:  account.ID,
			Login:      account.Login,
			Unregister: true,
			Note:       note,
		})
	case model.AppKindSponsorable:
		return s.SyncSponsorable(ctx, account, true)
	}

	return nil
}

// AppUnsuspend возобновляет установку приложения и запускает каскадную сверку.
func (s *Service) AppUnsuspend(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error {
	if err := s.changeState(ctx, kind, account, model.AppStateInstalled); err != nil {
		return err
	}

	if err := s.events.Push(ctx, &event.AppUnsuspended{AccountID: account.ID, Login: account.Login, Kind: kind, Note: note}); err != nil {
		return err
	}

	switch kind {
	case model.AppKindSponsor:
		return s.events.Push(ctx, &event.UserRefreshPending{
			AccountID: account.ID,
			Login:     account.Login,
			Note:      note,
		})
	case model.AppKindSponsorable:
		return s.SyncSponsorable(ctx, account, false)
	}

	return nil
}

// AppUninstall переводит установку в терминальное состояние deleted и запускает
// каскадную сверку. Запись об установке при этом сохраняется.
func (s *Service) AppUninstall(ctx context.Context, kind model.AppKind, account model.AccountID, note string) error {
	if err := s.changeState(ctx, kind, account, model.AppStateDeleted); err != nil {
		return err
	}

	if err := s.events.Push(ctx, &event.AppUninstalled{AccountID: account.ID, Login: account.Login, Kind: kind, Note: note}); err != nil {
		return err
	}

	switch kind {
	case model.AppKindSponsor:
		return s.events.Push(ctx, &event.UserRefreshPending{
			AccountID:  account.ID,
			Login:      account.Login,
			Unregister: true,
			Note:       note,
		})
	case model.AppKindSponsorable:
		return s.SyncSponsorable(ctx, account, true)
	}

	return nil
}

// Sponsor сохраняет новое спонсорство и публикует его в реестре, если
// выполняются инварианты. Факт сохраняется до проверки получателя: быстрая
// переустановка админ-приложения восстановит публикацию всех текущих спонсоров.
func (s *Service) Sponsor(ctx context.Context, sponsorable, sponsor model.AccountID, amount int64, expiresAt *time.Time, note string) error {
	sp := model.Sponsorship{
		SponsorableID:    sponsorable.ID,
		SponsorableLogin: sponsorable.Login,
		SponsorID:        sponsor.ID,
		SponsorLogin:     sponsor.Login,
		Amount:           amount,
		ExpiresAt:        expiresAt,
	}

	if err := s.saveSponsorshipAndExpiration(ctx, sp); err != nil {
		return err
	}

	err := s.events.Push(ctx, &event.SponsorshipCreated{
		SponsorableID: sponsorable.ID,
		SponsorID:     sponsor.ID,
		Amount:        amount,
		ExpiresAt:     expiresAt,
		Note:          note,
	})
	if err != nil {
		return err
	}

	if err := s.VerifySponsorable(ctx, sponsorable); err != nil {
		return err
	}

	_, err = s.UpdateSponsorRegistry(ctx, sponsorable, sponsor, false)
	return err
}

// SponsorUpdate сохраняет изменение суммы спонсорства. Повторная доставка до
// создания записи вырождается в создание: запись заменяется целиком.
func (s *Service) SponsorUpdate(ctx context.Context, sponsorable, sponsor model.AccountID, amount int64, note string) error {
	sp := model.Sponsorship{
		SponsorableID:    sponsorable.ID,
		SponsorableLogin: sponsorable.Login,
		SponsorID:        sponsor.ID,
		SponsorLogin:     sponsor.Login,
		Amount:           amount,
	}

	if err := s.saveSponsorshipAndExpiration(ctx, sp); err != nil {
		return err
	}

	err := s.events.Push(ctx, &event.SponsorshipChanged{
		SponsorableID: sponsorable.ID,
		SponsorID:     sponsor.ID,
		Amount:        amount,
		Note:          note,
	})
	if err != nil {
		return err
	}

	if err := s.VerifySponsorable(ctx, sponsorable); err != nil {
		return err
	}

	_, err = s.UpdateSponsorRegistry(ctx, sponsorable, sponsor, false)
	return err
}

// Unsponsor помечает спонсорство истёкшим и безусловно снимает публикацию:
// спонсор должен сниматься из реестра, даже если получатель утратил статус.
// Отсутствие факта в любом из индексов означает, что отменять нечего.
func (s *Service) Unsponsor(ctx context.Context, sponsorable, sponsor model.AccountID, note string) error {
	_, err := s.repo.GetSponsorship(ctx, repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
	if errors.Is(err, repository.ErrSponsorshipNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	sp, err := s.repo.GetSponsorship(ctx, repository.SponsorPartition(sponsor.ID), sponsorable.ID)
	if errors.Is(err, repository.ErrSponsorshipNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	today := model.DateOnly(s.now())
	sp.Expired = true
	sp.ExpiresAt = &today

	if err := s.saveSponsorshipAndExpiration(ctx, *sp); err != nil {
		return err
	}

	err = s.events.Push(ctx, &event.SponsorshipCancelled{
		SponsorableID: sponsorable.ID,
		SponsorID:     sponsor.ID,
		Note:          note,
	})
	if err != nil {
		return err
	}

	return s.registry.UnregisterSponsor(ctx, sponsorable, sponsor)
}

// UnsponsorExpired выполняет ежедневную корзину истечений: помечает
// соответствующие спонсорства истёкшими и удаляет отработанные записи.
// Повторный запуск безопасен: пустая корзина и уже истёкшее спонсорство — no-op.
func (s *Service) UnsponsorExpired(ctx context.Context, date time.Time) error {
	expirations, err := s.repo.ListExpirations(ctx, date)
	if err != nil {
		return err
	}

	for _, exp := range expirations {
		sponsorableID, sponsorID, ok := strings.Cut(exp.RowKey, "|")
		if ok {
			sp, err := s.repo.GetSponsorship(ctx, repository.SponsorablePartition(sponsorableID), sponsorID)
			switch {
			case err == nil:
				// Ставим флаг, не трогая дату истечения.
				sp.Expired = true
				if err := s.saveSponsorship(ctx, *sp); err != nil {
					return err
				}
				s.metrics.ExpirationsSwept.Inc()
			case errors.Is(err, repository.ErrSponsorshipNotFound):
				// Спонсорство уже сверено другим путём — запись просто удаляется.
			default:
				return err
			}
		}

		if err := s.repo.DeleteExpiration(ctx, date, exp.RowKey); err != nil {
			return err
		}
	}

	return nil
}

// SyncUser выполняет массовую сверку одного спонсора: публикацию приложения,
// всех его спонсорств (при необходимости — только одного получателя) и
// членства в организациях. Возвращает false, если какая-то часть сверки пока
// невозможна и событие следует доставить повторно.
func (s *Service) SyncUser(ctx context.Context, account model.AccountID, sponsorableID string, unregister bool) (bool, error) {
	done := true

	if sponsorableID == "" {
		// Вне сверки по конкретному получателю обновляется и публикация
		// приложения самого аккаунта.
		ok, err := s.UpdateAppRegistry(ctx, account)
		if err != nil {
			return false, err
		}
		done = done && ok
	}

	sponsorships, err := s.repo.ListSponsorships(ctx, repository.SponsorPartition(account.ID))
	if err != nil {
		return false, err
	}

	for _, sp := range sponsorships {
		if sponsorableID != "" && sp.SponsorableID != sponsorableID {
			continue
		}

		sponsorable := model.AccountID{ID: sp.SponsorableID, Login: sp.SponsorableLogin}

		if unregister {
			// При снятии публикация убирается независимо от статуса получателя.
			if err := s.registry.UnregisterSponsor(ctx, sponsorable, account); err != nil {
				return false, err
			}
			continue
		}

		if err := s.VerifySponsorable(ctx, sponsorable); err != nil {
			return false, err
		}

		ok, err := s.UpdateSponsorRegistry(ctx, sponsorable, account, false)
		if err != nil {
			return false, err
		}
		done = done && ok
	}

	if err := s.syncOrganizations(ctx, account, unregister); err != nil {
		return false, err
	}

	return done, nil
}

// syncOrganizations учитывает членство пользователя в организациях как неявное
// спонсорство. Запрос возможен только после авторизации: нужен токен пользователя.
func (s *Service) syncOrganizations(ctx context.Context, account model.AccountID, unregister bool) error {
	auth, err := s.repo.GetAuthorization(ctx, account.ID)
	if errors.Is(err, repository.ErrAuthorizationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	orgs, err := s.client.ListOrganizations(ctx, auth.AccessToken)
	if err != nil {
		// Членство в организациях — необязательная часть сверки.
		s.logger.Warn("list organizations", zap.String("login", account.Login), zap.Error(err))
		return nil
	}

	for _, org := range orgs {
		if err := s.syncOrganization(ctx, org, account, unregister); err != nil {
			return err
		}

		if alias, ok := s.aliases[org.ID]; ok {
			if err := s.syncOrganization(ctx, alias, account, unregister); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Service) syncOrganization(ctx context.Context, org, account model.AccountID, unregister bool) error {
	if unregister {
		return s.registry.UnregisterSponsor(ctx, org, account)
	}

	// Результат не влияет на итог сверки: организация может вовсе не быть
	// получателем или не иметь установленного админ-приложения.
	_, err := s.UpdateSponsorRegistry(ctx, org, account, true)
	return err
}

// SyncSponsorable выполняет массовую сверку одного получателя. Вместо
// синхронной публикации на каждого спонсора откладывается отдельное событие:
// веер может быть большим, а работа упирается во внешний API.
func (s *Service) SyncSponsorable(ctx context.Context, sponsorable model.AccountID, unregister bool) error {
	if !unregister {
		if err := s.VerifySponsorable(ctx, sponsorable); err != nil {
			return err
		}
	}

	sponsorships, err := s.repo.ListSponsorships(ctx, repository.SponsorablePartition(sponsorable.ID))
	if err != nil {
		return err
	}

	for _, sp := range sponsorships {
		err := s.events.Push(ctx, &event.UserRefreshPending{
			AccountID:     sp.SponsorID,
			Login:         sp.SponsorLogin,
			SponsorableID: sponsorable.ID,
			Unregister:    unregister,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// VerifySponsorable проверяет инварианты получателя: установленное
// админ-приложение и активное спонсорство аккаунта оператора.
// Оператор всегда проходит проверку.
func (s *Service) VerifySponsorable(ctx context.Context, sponsorable model.AccountID) error {
	if sponsorable.ID == s.operator.ID {
		return nil
	}

	app, err := s.FindApp(ctx, model.AppKindSponsorable, sponsorable)
	if err != nil {
		return err
	}
	if app == nil || app.State == model.AppStateDeleted {
		return fmt.Errorf("%w: %s", ErrAdminAppMissing, sponsorable.Login)
	}
	if app.State == model.AppStateSuspended {
		return fmt.Errorf("%w: %s", ErrAdminAppSuspended, sponsorable.Login)
	}

	sp, err := s.repo.GetSponsorship(ctx, repository.SponsorPartition(sponsorable.ID), s.operator.ID)
	if errors.Is(err, repository.ErrSponsorshipNotFound) {
		return fmt.Errorf("%w: %s", ErrOperatorNotSponsored, sponsorable.Login)
	}
	if err != nil {
		return err
	}

	if sp.ExpiresAt != nil && sp.ExpiresAt.Before(model.DateOnly(s.now())) {
		return fmt.Errorf("%w: %s", ErrOperatorNotSponsored, sponsorable.Login)
	}

	return nil
}

// UpdateSponsorRegistry публикует связь sponsorable→sponsor по подтверждённым
// адресам спонсора. Возвращает false без ошибки, если публикация пока
// невозможна: предусловия разрешаются асинхронно, событие сверки повторится.
func (s *Service) UpdateSponsorRegistry(ctx context.Context, sponsorable, sponsor model.AccountID, member bool) (bool, error) {
	app, err := s.FindApp(ctx, model.AppKindSponsor, sponsor)
	if err != nil {
		return false, err
	}
	if app == nil || app.State != model.AppStateInstalled {
		// Спонсор без установленного приложения, вероятно, не использует библиотеки.
		return false, nil
	}

	auth, err := s.repo.GetAuthorization(ctx, sponsor.ID)
	if errors.Is(err, repository.ErrAuthorizationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	emails, err := s.client.ListEmails(ctx, auth.AccessToken)
	if err != nil {
		s.logger.Warn("list emails", zap.String("login", sponsor.Login), zap.Error(err))
		return false, nil
	}

	if err := s.registry.RegisterSponsor(ctx, sponsorable, sponsor, verifiedEmails(emails), member); err != nil {
		return false, err
	}

	return true, nil
}

// UpdateAppRegistry обновляет публикацию адресов аккаунта, установившего
// приложение. Если установка отсутствует или не активна, снимаются все ранее
// опубликованные адреса: актуальный их список получить уже нельзя.
func (s *Service) UpdateAppRegistry(ctx context.Context, account model.AccountID) (bool, error) {
	app, err := s.FindApp(ctx, model.AppKindSponsor, account)
	if err != nil {
		return false, err
	}
	if app == nil || app.State != model.AppStateInstalled {
		if err := s.registry.UnregisterApp(ctx, account); err != nil {
			return false, err
		}
		return true, nil
	}

	auth, err := s.repo.GetAuthorization(ctx, account.ID)
	if errors.Is(err, repository.ErrAuthorizationNotFound) {
		// Без авторизации адреса недоступны — повторим после неё.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	user, err := s.client.GetUser(ctx, auth.AccessToken, account.Login)
	if err != nil {
		s.logger.Warn("get user", zap.String("login", account.Login), zap.Error(err))
		return false, nil
	}

	emails, err := s.client.ListEmails(ctx, auth.AccessToken)
	if err != nil {
		s.logger.Warn("list emails", zap.String("login", account.Login), zap.Error(err))
		return false, nil
	}

	if err := s.registry.RegisterApp(ctx, account, verifiedEmails(emails)); err != nil {
		return false, err
	}

	// Для рассылок достаточно основного адреса пользователя.
	return true, s.repo.SaveAccount(ctx, model.Account{ID: account.ID, Login: account.Login, Email: user.Email})
}

// Ping подтверждает работоспособность потока событий.
func (s *Service) Ping(ctx context.Context) error {
	return s.events.Push(ctx, &event.PingCompleted{When: s.now()})
}

// StartExpirationSweeps запускает фоновую обработку корзин истечений.
// Первая обработка выполняется сразу: после простоя сервиса корзина текущего
// дня могла остаться необработанной. Повторные запуски за один день безопасны.
func (s *Service) StartExpirationSweeps(ctx context.Context, interval time.Duration) {
	go func() {
		s.sweepExpirations(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpirations(ctx)
			}
		}
	}()
}

func (s *Service) sweepExpirations(ctx context.Context) {
	today := model.DateOnly(s.now())
	if err := s.UnsponsorExpired(ctx, today); err != nil {
		s.logger.Error("sweep expirations", zap.Time("date", today), zap.Error(err))
	}
}

func (s *Service) changeState(ctx context.Context, kind model.AppKind, account model.AccountID, state model.AppState) error {
	inst, err := s.repo.GetInstallation(ctx, kind, account.ID)
	if errors.Is(err, repository.ErrInstallationNotFound) {
		// Смена состояния без записи об установке — ошибка порядка событий
		// выше по потоку, её нельзя маскировать.
		return fmt.Errorf("%w: %s app for account %s", repository.ErrInstallationNotFound, kind, account.Login)
	}
	if err != nil {
		return err
	}

	inst.State = state
	return s.repo.SaveInstallation(ctx, kind, *inst)
}

// saveSponsorshipAndExpiration сохраняет спонсорство и согласует расписание
// истечений: прежняя корзина очищается, если дата истечения изменилась или
// исчезла (разовое спонсорство стало регулярным).
func (s *Service) saveSponsorshipAndExpiration(ctx context.Context, sp model.Sponsorship) error {
	rowKey := model.ExpirationRowKey(sp.SponsorableID, sp.SponsorID)

	existing, err := s.repo.GetSponsorship(ctx, repository.SponsorablePartition(sp.SponsorableID), sp.SponsorID)
	if err != nil && !errors.Is(err, repository.ErrSponsorshipNotFound) {
		return err
	}

	if existing != nil && existing.ExpiresAt != nil {
		if err := s.repo.DeleteExpiration(ctx, *existing.ExpiresAt, rowKey); err != nil {
			return err
		}
	}

	if sp.ExpiresAt != nil {
		err := s.repo.PutExpiration(ctx, *sp.ExpiresAt, model.Expiration{
			RowKey:           rowKey,
			SponsorableLogin: sp.SponsorableLogin,
			SponsorLogin:     sp.SponsorLogin,
		})
		if err != nil {
			return err
		}
	}

	return s.saveSponsorship(ctx, sp)
}

// saveSponsorship записывает факт в обе секции. Записи не объединены
// транзакцией; расхождение устраняется следующей сверкой.
func (s *Service) saveSponsorship(ctx context.Context, sp model.Sponsorship) error {
	err := s.repo.PutSponsorship(ctx, repository.SponsorablePartition(sp.SponsorableID), sp.SponsorID, sp)
	if err != nil {
		return err
	}

	return s.repo.PutSponsorship(ctx, repository.SponsorPartition(sp.SponsorID), sp.SponsorableID, sp)
}

func verifiedEmails(emails []github.Email) []string {
	var res []string
	for _, e := range emails {
		if e.Verified {
			res = append(res, e.Email)
		}
	}
	return res
}
