package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/sponsorlink-system/internal/event"
	"github.com/mmeshcher/sponsorlink-system/internal/github"
	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
	"github.com/mmeshcher/sponsorlink-system/internal/repository"
)

var (
	operator    = model.AccountID{ID: "MDQ6VXNlcjA=", Login: "operator"}
	sponsorable = model.AccountID{ID: "MDEyOk9yZzE=", Login: "acme"}
	sponsor     = model.AccountID{ID: "MDQ6VXNlcjI=", Login: "octocat"}
)

// Метрики регистрируются в глобальном реестре prometheus, поэтому один набор
// на весь пакет.
var testMetrics = metrics.New()

type memRepository struct {
	installations  map[string]model.Installation
	authorizations map[string]model.Authorization
	sponsorships   map[string]model.Sponsorship
	expirations    map[string]model.Expiration
	accounts       map[string]model.Account
}

func newMemRepository() *memRepository {
	return &memRepository{
		installations:  make(map[string]model.Installation),
		authorizations: make(map[string]model.Authorization),
		sponsorships:   make(map[string]model.Sponsorship),
		expirations:    make(map[string]model.Expiration),
		accounts:       make(map[string]model.Account),
	}
}

func (m *memRepository) Close() error { return nil }

func instKey(kind model.AppKind, accountID string) string {
	return string(kind) + "/" + accountID
}

func (m *memRepository) SaveInstallation(_ context.Context, kind model.AppKind, inst model.Installation) error {
	m.installations[instKey(kind, inst.AccountID)] = inst
	return nil
}

func (m *memRepository) GetInstallation(_ context.Context, kind model.AppKind, accountID string) (*model.Installation, error) {
	inst, ok := m.installations[instKey(kind, accountID)]
	if !ok {
		return nil, repository.ErrInstallationNotFound
	}
	return &inst, nil
}

func (m *memRepository) ListInstallations(_ context.Context, kind model.AppKind) ([]model.Installation, error) {
	var res []model.Installation
	for key, inst := range m.installations {
		if key == instKey(kind, inst.AccountID) {
			res = append(res, inst)
		}
	}
	return res, nil
}

func (m *memRepository) SaveAuthorization(_ context.Context, auth model.Authorization) error {
	m.authorizations[auth.AccountID] = auth
	return nil
}

func (m *memRepository) GetAuthorization(_ context.Context, accountID string) (*model.Authorization, error) {
	auth, ok := m.authorizations[accountID]
	if !ok {
		return nil, repository.ErrAuthorizationNotFound
	}
	return &auth, nil
}

func (m *memRepository) PutSponsorship(_ context.Context, partition, rowKey string, s model.Sponsorship) error {
	m.sponsorships[partition+"/"+rowKey] = s
	return nil
}

func (m *memRepository) GetSponsorship(_ context.Context, partition, rowKey string) (*model.Sponsorship, error) {
	s, ok := m.sponsorships[partition+"/"+rowKey]
	if !ok {
		return nil, repository.ErrSponsorshipNotFound
	}
	return &s, nil
}

func (m *memRepository) ListSponsorships(_ context.Context, partition string) ([]model.Sponsorship, error) {
	var res []model.Sponsorship
	for key, s := range m.sponsorships {
		if len(key) > len(partition) && key[:len(partition)+1] == partition+"/" {
			res = append(res, s)
		}
	}
	return res, nil
}

func expKey(bucket time.Time, rowKey string) string {
	return model.DateKey(bucket) + "/" + rowKey
}

func (m *memRepository) PutExpiration(_ context.Context, bucket time.Time, e model.Expiration) error {
	m.expirations[expKey(bucket, e.RowKey)] = e
	return nil
}

func (m *memRepository) DeleteExpiration(_ context.Context, bucket time.Time, rowKey string) error {
	delete(m.expirations, expKey(bucket, rowKey))
	return nil
}

func (m *memRepository) ListExpirations(_ context.Context, bucket time.Time) ([]model.Expiration, error) {
	var res []model.Expiration
	for key, e := range m.expirations {
		if key == expKey(bucket, e.RowKey) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *memRepository) SaveAccount(_ context.Context, acc model.Account) error {
	m.accounts[acc.ID] = acc
	return nil
}

type stubClient struct {
	accessToken string
	user        *github.User
	emails      []github.Email
	orgs        []model.AccountID
	emailsErr   error
	orgsErr     error
}

func (c *stubClient) ExchangeCode(_ context.Context, _ model.AppKind, _ string) (string, error) {
	return c.accessToken, nil
}

func (c *stubClient) CurrentUser(_ context.Context, _ string) (*github.User, error) {
	return c.user, nil
}

func (c *stubClient) GetUser(_ context.Context, _, _ string) (*github.User, error) {
	return c.user, nil
}

func (c *stubClient) ListEmails(_ context.Context, _ string) ([]github.Email, error) {
	return c.emails, c.emailsErr
}

func (c *stubClient) ListOrganizations(_ context.Context, _ string) ([]model.AccountID, error) {
	return c.orgs, c.orgsErr
}

type registryCall struct {
	sponsorable model.AccountID
	sponsor     model.AccountID
	emails      []string
	member      bool
}

type stubRegistry struct {
	registered      []registryCall
	unregistered    []registryCall
	appRegistered   []model.AccountID
	appUnregistered []model.AccountID
}

func (r *stubRegistry) RegisterSponsor(_ context.Context, sponsorable, sponsor model.AccountID, emails []string, member bool) error {
	r.registered = append(r.registered, registryCall{sponsorable, sponsor, emails, member})
	return nil
}

func (r *stubRegistry) UnregisterSponsor(_ context.Context, sponsorable, sponsor model.AccountID) error {
	r.unregistered = append(r.unregistered, registryCall{sponsorable: sponsorable, sponsor: sponsor})
	return nil
}

func (r *stubRegistry) RegisterApp(_ context.Context, account model.AccountID, emails []string) error {
	r.appRegistered = append(r.appRegistered, account)
	return nil
}

func (r *stubRegistry) UnregisterApp(_ context.Context, account model.AccountID) error {
	r.appUnregistered = append(r.appUnregistered, account)
	return nil
}

type stubStream struct {
	pushed []event.Event
}

func (s *stubStream) Push(_ context.Context, e event.Event) error {
	s.pushed = append(s.pushed, e)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memRepository
	client   *stubClient
	registry *stubRegistry
	stream   *stubStream
}

var testNow = time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo: newMemRepository(),
		client: &stubClient{
			accessToken: "gho_test",
			user:        &github.User{NodeID: sponsor.ID, Login: sponsor.Login, Email: "octo@example.com"},
			emails: []github.Email{
				{Email: "octo@example.com", Verified: true, Primary: true},
				{Email: "old@example.com", Verified: false},
			},
		},
		registry: &stubRegistry{},
		stream:   &stubStream{},
	}

	f.svc = NewService(f.repo, f.client, f.registry, f.stream, zap.NewNop(), testMetrics, Config{Operator: operator})
	f.svc.now = func() time.Time { return testNow }
	f.svc.newToken = func() string { return "token-1" }

	return f
}

// makeSponsorable приводит получателя в валидное состояние: установленное
// админ-приложение и активное спонсорство оператора.
func (f *fixture) makeSponsorable(t *testing.T, account model.AccountID) {
	t.Helper()

	ctx := context.Background()
	err := f.repo.SaveInstallation(ctx, model.AppKindSponsorable, model.Installation{
		AccountID: account.ID,
		Login:     account.Login,
		State:     model.AppStateInstalled,
		Token:     "t",
	})
	if err != nil {
		t.Fatalf("SaveInstallation error: %v", err)
	}

	sp := model.Sponsorship{
		SponsorableID:    operator.ID,
		SponsorableLogin: operator.Login,
		SponsorID:        account.ID,
		SponsorLogin:     account.Login,
		Amount:           10,
	}
	if err := f.repo.PutSponsorship(ctx, repository.SponsorPartition(account.ID), operator.ID, sp); err != nil {
		t.Fatalf("PutSponsorship error: %v", err)
	}
}

func (f *fixture) installSponsorApp(t *testing.T, account model.AccountID) {
	t.Helper()

	err := f.repo.SaveInstallation(context.Background(), model.AppKindSponsor, model.Installation{
		AccountID: account.ID,
		Login:     account.Login,
		State:     model.AppStateInstalled,
		Token:     "t",
	})
	if err != nil {
		t.Fatalf("SaveInstallation error: %v", err)
	}
}

func (f *fixture) authorize(t *testing.T, account model.AccountID) {
	t.Helper()

	err := f.repo.SaveAuthorization(context.Background(), model.Authorization{
		AccountID:   account.ID,
		Login:       account.Login,
		AccessToken: "gho_test",
	})
	if err != nil {
		t.Fatalf("SaveAuthorization error: %v", err)
	}
}

func TestVerifySponsorable(t *testing.T) {
	t.Run("operator is exempt", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.VerifySponsorable(context.Background(), operator); err != nil {
			t.Fatalf("VerifySponsorable(operator) = %v, want nil", err)
		}
	})

	t.Run("admin app missing", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.VerifySponsorable(context.Background(), sponsorable)
		if !errors.Is(err, ErrAdminAppMissing) {
			t.Fatalf("VerifySponsorable = %v, want ErrAdminAppMissing", err)
		}
	})

	t.Run("admin app suspended", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		if err := f.svc.AppSuspend(context.Background(), model.AppKindSponsorable, sponsorable, ""); err != nil {
			t.Fatalf("AppSuspend error: %v", err)
		}

		err := f.svc.VerifySponsorable(context.Background(), sponsorable)
		if !errors.Is(err, ErrAdminAppSuspended) {
			t.Fatalf("VerifySponsorable = %v, want ErrAdminAppSuspended", err)
		}
	})

	t.Run("operator sponsorship missing", func(t *testing.T) {
		f := newFixture(t)
		f.installSponsorApp(t, sponsorable)
		err := f.repo.SaveInstallation(context.Background(), model.AppKindSponsorable, model.Installation{
			AccountID: sponsorable.ID,
			Login:     sponsorable.Login,
			State:     model.AppStateInstalled,
		})
		if err != nil {
			t.Fatalf("SaveInstallation error: %v", err)
		}

		err = f.svc.VerifySponsorable(context.Background(), sponsorable)
		if !errors.Is(err, ErrOperatorNotSponsored) {
			t.Fatalf("VerifySponsorable = %v, want ErrOperatorNotSponsored", err)
		}
	})

	t.Run("operator sponsorship expired", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)

		yesterday := model.DateOnly(testNow).AddDate(0, 0, -1)
		sp := model.Sponsorship{
			SponsorableID: operator.ID,
			SponsorID:     sponsorable.ID,
			ExpiresAt:     &yesterday,
		}
		err := f.repo.PutSponsorship(context.Background(), repository.SponsorPartition(sponsorable.ID), operator.ID, sp)
		if err != nil {
			t.Fatalf("PutSponsorship error: %v", err)
		}

		err = f.svc.VerifySponsorable(context.Background(), sponsorable)
		if !errors.Is(err, ErrOperatorNotSponsored) {
			t.Fatalf("VerifySponsorable = %v, want ErrOperatorNotSponsored", err)
		}
	})
}

func TestSponsor_PersistsBothIndexes(t *testing.T) {
	f := newFixture(t)
	f.makeSponsorable(t, sponsorable)
	f.installSponsorApp(t, sponsor)
	f.authorize(t, sponsor)

	if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, "created"); err != nil {
		t.Fatalf("Sponsor error: %v", err)
	}

	byable, err := f.repo.GetSponsorship(context.Background(), repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
	if err != nil {
		t.Fatalf("sponsorable index: %v", err)
	}
	byor, err := f.repo.GetSponsorship(context.Background(), repository.SponsorPartition(sponsor.ID), sponsorable.ID)
	if err != nil {
		t.Fatalf("sponsor index: %v", err)
	}
	if *byable != *byor {
		t.Fatalf("indexes diverged: %+v vs %+v", byable, byor)
	}
	if byable.Amount != 25 {
		t.Fatalf("amount = %d, want 25", byable.Amount)
	}

	if len(f.registry.registered) != 1 {
		t.Fatalf("RegisterSponsor calls = %d, want 1", len(f.registry.registered))
	}
	call := f.registry.registered[0]
	if call.member {
		t.Fatalf("member = true, want false")
	}
	if len(call.emails) != 1 || call.emails[0] != "octo@example.com" {
		t.Fatalf("registered emails = %v, want only verified", call.emails)
	}
}

func TestSponsor_GateFailsButFactIsKept(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, "")
	if !errors.Is(err, ErrAdminAppMissing) {
		t.Fatalf("Sponsor = %v, want ErrAdminAppMissing", err)
	}

	// Факт сохраняется до проверки: переустановка приложения восстановит публикацию.
	_, err = f.repo.GetSponsorship(context.Background(), repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
	if err != nil {
		t.Fatalf("sponsorship was not persisted: %v", err)
	}
	if len(f.registry.registered) != 0 {
		t.Fatalf("RegisterSponsor calls = %d, want 0", len(f.registry.registered))
	}
}

func TestSponsor_SchedulesExpiration(t *testing.T) {
	f := newFixture(t)
	f.makeSponsorable(t, sponsorable)

	expires := model.DateOnly(testNow).AddDate(0, 1, 0)
	err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 5, &expires, "one-time")
	if err != nil {
		t.Fatalf("Sponsor error: %v", err)
	}

	exps, err := f.repo.ListExpirations(context.Background(), expires)
	if err != nil {
		t.Fatalf("ListExpirations error: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("expirations = %d, want 1", len(exps))
	}
	if want := model.ExpirationRowKey(sponsorable.ID, sponsor.ID); exps[0].RowKey != want {
		t.Fatalf("expiration row key = %q, want %q", exps[0].RowKey, want)
	}
}

func TestSponsorUpdate_ClearsPriorExpiration(t *testing.T) {
	f := newFixture(t)
	f.makeSponsorable(t, sponsorable)

	expires := model.DateOnly(testNow).AddDate(0, 1, 0)
	if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 5, &expires, ""); err != nil {
		t.Fatalf("Sponsor error: %v", err)
	}

	// Разовое спонсорство стало регулярным: прежняя корзина должна очиститься.
	if err := f.svc.SponsorUpdate(context.Background(), sponsorable, sponsor, 10, ""); err != nil {
		t.Fatalf("SponsorUpdate error: %v", err)
	}

	exps, err := f.repo.ListExpirations(context.Background(), expires)
	if err != nil {
		t.Fatalf("ListExpirations error: %v", err)
	}
	if len(exps) != 0 {
		t.Fatalf("expirations = %d, want 0 after reschedule", len(exps))
	}

	sp, err := f.repo.GetSponsorship(context.Background(), repository.SponsorPartition(sponsor.ID), sponsorable.ID)
	if err != nil {
		t.Fatalf("GetSponsorship error: %v", err)
	}
	if sp.ExpiresAt != nil || sp.Amount != 10 {
		t.Fatalf("sponsorship = %+v, want amount 10 without expiration", sp)
	}
}

func TestUnsponsor(t *testing.T) {
	t.Run("missing fact is a no-op", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.Unsponsor(context.Background(), sponsorable, sponsor, ""); err != nil {
			t.Fatalf("Unsponsor = %v, want nil", err)
		}
		if len(f.registry.unregistered) != 0 {
			t.Fatalf("UnregisterSponsor calls = %d, want 0", len(f.registry.unregistered))
		}
	})

	t.Run("unregisters even when the gate would fail", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, ""); err != nil {
			t.Fatalf("Sponsor error: %v", err)
		}

		// Получатель теряет статус, но отмена всё равно снимает публикацию.
		delete(f.repo.installations, instKey(model.AppKindSponsorable, sponsorable.ID))

		if err := f.svc.Unsponsor(context.Background(), sponsorable, sponsor, "cancelled"); err != nil {
			t.Fatalf("Unsponsor error: %v", err)
		}

		if len(f.registry.unregistered) != 1 {
			t.Fatalf("UnregisterSponsor calls = %d, want 1", len(f.registry.unregistered))
		}

		sp, err := f.repo.GetSponsorship(context.Background(), repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
		if err != nil {
			t.Fatalf("GetSponsorship error: %v", err)
		}
		if !sp.Expired {
			t.Fatalf("Expired = false, want true")
		}
		if sp.ExpiresAt == nil || !sp.ExpiresAt.Equal(model.DateOnly(testNow)) {
			t.Fatalf("ExpiresAt = %v, want today", sp.ExpiresAt)
		}
	})
}

func TestUnsponsorExpired(t *testing.T) {
	f := newFixture(t)
	f.makeSponsorable(t, sponsorable)

	today := model.DateOnly(testNow)
	if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 5, &today, ""); err != nil {
		t.Fatalf("Sponsor error: %v", err)
	}

	if err := f.svc.UnsponsorExpired(context.Background(), today); err != nil {
		t.Fatalf("UnsponsorExpired error: %v", err)
	}

	sp, err := f.repo.GetSponsorship(context.Background(), repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
	if err != nil {
		t.Fatalf("GetSponsorship error: %v", err)
	}
	if !sp.Expired {
		t.Fatalf("Expired = false, want true")
	}
	if sp.ExpiresAt == nil || !sp.ExpiresAt.Equal(today) {
		t.Fatalf("ExpiresAt = %v, want unchanged", sp.ExpiresAt)
	}

	exps, err := f.repo.ListExpirations(context.Background(), today)
	if err != nil {
		t.Fatalf("ListExpirations error: %v", err)
	}
	if len(exps) != 0 {
		t.Fatalf("expirations = %d, want 0 after sweep", len(exps))
	}

	// Повторный проход той же корзины ничего не меняет.
	if err := f.svc.UnsponsorExpired(context.Background(), today); err != nil {
		t.Fatalf("repeated UnsponsorExpired error: %v", err)
	}
}

func TestUnsponsorExpired_EarlierBucketIsNoop(t *testing.T) {
	f := newFixture(t)
	f.makeSponsorable(t, sponsorable)

	expires := model.DateOnly(testNow)
	if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 5, &expires, ""); err != nil {
		t.Fatalf("Sponsor error: %v", err)
	}

	// Проход по вчерашней корзине не должен затронуть спонсорство,
	// истекающее сегодня.
	yesterday := expires.AddDate(0, 0, -1)
	if err := f.svc.UnsponsorExpired(context.Background(), yesterday); err != nil {
		t.Fatalf("UnsponsorExpired error: %v", err)
	}

	sp, err := f.repo.GetSponsorship(context.Background(), repository.SponsorablePartition(sponsorable.ID), sponsor.ID)
	if err != nil {
		t.Fatalf("GetSponsorship error: %v", err)
	}
	if sp.Expired {
		t.Fatalf("Expired = true, want false before the expiration date")
	}

	exps, err := f.repo.ListExpirations(context.Background(), expires)
	if err != nil {
		t.Fatalf("ListExpirations error: %v", err)
	}
	if len(exps) != 1 {
		t.Fatalf("expirations = %d, want 1 still scheduled", len(exps))
	}
}

func TestAppLifecycle(t *testing.T) {
	t.Run("install issues a fresh token", func(t *testing.T) {
		f := newFixture(t)
		if err := f.svc.AppInstall(context.Background(), model.AppKindSponsor, sponsor, "installed"); err != nil {
			t.Fatalf("AppInstall error: %v", err)
		}

		inst, err := f.repo.GetInstallation(context.Background(), model.AppKindSponsor, sponsor.ID)
		if err != nil {
			t.Fatalf("GetInstallation error: %v", err)
		}
		if inst.State != model.AppStateInstalled || inst.Token != "token-1" {
			t.Fatalf("installation = %+v", inst)
		}
	})

	t.Run("state change without installation fails", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.AppSuspend(context.Background(), model.AppKindSponsor, sponsor, "")
		if !errors.Is(err, repository.ErrInstallationNotFound) {
			t.Fatalf("AppSuspend = %v, want ErrInstallationNotFound", err)
		}
	})

	t.Run("sponsor app suspend defers unregistration", func(t *testing.T) {
		f := newFixture(t)
		f.installSponsorApp(t, sponsor)

		if err := f.svc.AppSuspend(context.Background(), model.AppKindSponsor, sponsor, "suspended"); err != nil {
			t.Fatalf("AppSuspend error: %v", err)
		}

		var refresh *event.UserRefreshPending
		for _, e := range f.stream.pushed {
			if r, ok := e.(*event.UserRefreshPending); ok {
				refresh = r
			}
		}
		if refresh == nil {
			t.Fatalf("no UserRefreshPending event pushed")
		}
		if !refresh.Unregister || refresh.AccountID != sponsor.ID {
			t.Fatalf("refresh = %+v, want unregister for sponsor", refresh)
		}
	})

	t.Run("sponsorable uninstall fans out refresh events", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, ""); err != nil {
			t.Fatalf("Sponsor error: %v", err)
		}
		f.stream.pushed = nil

		if err := f.svc.AppUninstall(context.Background(), model.AppKindSponsorable, sponsorable, "uninstalled"); err != nil {
			t.Fatalf("AppUninstall error: %v", err)
		}

		var refreshes []*event.UserRefreshPending
		for _, e := range f.stream.pushed {
			if r, ok := e.(*event.UserRefreshPending); ok {
				refreshes = append(refreshes, r)
			}
		}
		if len(refreshes) != 1 {
			t.Fatalf("refresh events = %d, want 1 per sponsor", len(refreshes))
		}
		if !refreshes[0].Unregister || refreshes[0].SponsorableID != sponsorable.ID {
			t.Fatalf("refresh = %+v, want unregister scoped to sponsorable", refreshes[0])
		}

		inst, err := f.repo.GetInstallation(context.Background(), model.AppKindSponsorable, sponsorable.ID)
		if err != nil {
			t.Fatalf("GetInstallation error: %v", err)
		}
		if inst.State != model.AppStateDeleted {
			t.Fatalf("state = %s, want deleted", inst.State)
		}
	})
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Authorize(context.Background(), model.AppKindSponsor, "code-1"); err != nil {
		t.Fatalf("Authorize error: %v", err)
	}

	auth, err := f.repo.GetAuthorization(context.Background(), sponsor.ID)
	if err != nil {
		t.Fatalf("GetAuthorization error: %v", err)
	}
	if auth.AccessToken != "gho_test" || auth.Login != sponsor.Login {
		t.Fatalf("authorization = %+v", auth)
	}

	if len(f.stream.pushed) != 2 {
		t.Fatalf("pushed events = %d, want authorized + refresh", len(f.stream.pushed))
	}
	if _, ok := f.stream.pushed[1].(*event.UserRefreshPending); !ok {
		t.Fatalf("second event = %T, want *UserRefreshPending", f.stream.pushed[1])
	}
}

func TestSyncUser(t *testing.T) {
	t.Run("incomplete without authorization", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		f.installSponsorApp(t, sponsor)
		if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, ""); err != nil {
			t.Fatalf("Sponsor error: %v", err)
		}

		done, err := f.svc.SyncUser(context.Background(), sponsor, "", false)
		if err != nil {
			t.Fatalf("SyncUser error: %v", err)
		}
		if done {
			t.Fatalf("done = true, want false without authorization")
		}
	})

	t.Run("complete sync registers everything", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		f.installSponsorApp(t, sponsor)
		f.authorize(t, sponsor)
		if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, ""); err != nil {
			t.Fatalf("Sponsor error: %v", err)
		}
		f.registry.registered = nil

		done, err := f.svc.SyncUser(context.Background(), sponsor, "", false)
		if err != nil {
			t.Fatalf("SyncUser error: %v", err)
		}
		if !done {
			t.Fatalf("done = false, want true")
		}
		if len(f.registry.registered) != 1 {
			t.Fatalf("RegisterSponsor calls = %d, want 1", len(f.registry.registered))
		}
		if len(f.registry.appRegistered) != 1 {
			t.Fatalf("RegisterApp calls = %d, want 1", len(f.registry.appRegistered))
		}
		if f.repo.accounts[sponsor.ID].Email != "octo@example.com" {
			t.Fatalf("account email = %q", f.repo.accounts[sponsor.ID].Email)
		}
	})

	t.Run("membership counts as sponsorship", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		f.installSponsorApp(t, sponsor)
		f.authorize(t, sponsor)
		f.client.orgs = []model.AccountID{sponsorable}

		done, err := f.svc.SyncUser(context.Background(), sponsor, "", false)
		if err != nil {
			t.Fatalf("SyncUser error: %v", err)
		}
		if !done {
			t.Fatalf("done = false, want true")
		}

		var member bool
		for _, call := range f.registry.registered {
			if call.sponsorable == sponsorable && call.member {
				member = true
			}
		}
		if !member {
			t.Fatalf("no member registration for organization, calls: %+v", f.registry.registered)
		}
	})

	t.Run("alias doubles membership", func(t *testing.T) {
		f := newFixture(t)
		alias := model.AccountID{ID: "MDEyOk9yZzk=", Login: "acme-oss"}
		f.svc.aliases = map[string]model.AccountID{sponsorable.ID: alias}
		f.makeSponsorable(t, sponsorable)
		f.makeSponsorable(t, alias)
		f.installSponsorApp(t, sponsor)
		f.authorize(t, sponsor)
		f.client.orgs = []model.AccountID{sponsorable}

		if _, err := f.svc.SyncUser(context.Background(), sponsor, "", false); err != nil {
			t.Fatalf("SyncUser error: %v", err)
		}

		var targets []string
		for _, call := range f.registry.registered {
			if call.member {
				targets = append(targets, call.sponsorable.Login)
			}
		}
		if len(targets) != 2 {
			t.Fatalf("member registrations = %v, want both org and alias", targets)
		}
	})

	t.Run("unregister skips the gate", func(t *testing.T) {
		f := newFixture(t)
		f.makeSponsorable(t, sponsorable)
		if err := f.svc.Sponsor(context.Background(), sponsorable, sponsor, 25, nil, ""); err != nil {
			t.Fatalf("Sponsor error: %v", err)
		}
		delete(f.repo.installations, instKey(model.AppKindSponsorable, sponsorable.ID))

		done, err := f.svc.SyncUser(context.Background(), sponsor, sponsorable.ID, true)
		if err != nil {
			t.Fatalf("SyncUser error: %v", err)
		}
		if !done {
			t.Fatalf("done = false, want true")
		}
		if len(f.registry.unregistered) != 1 {
			t.Fatalf("UnregisterSponsor calls = %d, want 1", len(f.registry.unregistered))
		}
	})
}

func TestUpdateAppRegistry_RemovedAppUnregisters(t *testing.T) {
	f := newFixture(t)

	done, err := f.svc.UpdateAppRegistry(context.Background(), sponsor)
	if err != nil {
		t.Fatalf("UpdateAppRegistry error: %v", err)
	}
	if !done {
		t.Fatalf("done = false, want true for unregistration")
	}
	if len(f.registry.appUnregistered) != 1 {
		t.Fatalf("UnregisterApp calls = %d, want 1", len(f.registry.appUnregistered))
	}
}

func TestUpdateSponsorRegistry_SoftFailures(t *testing.T) {
	t.Run("no sponsor app", func(t *testing.T) {
		f := newFixture(t)
		done, err := f.svc.UpdateSponsorRegistry(context.Background(), sponsorable, sponsor, false)
		if err != nil || done {
			t.Fatalf("UpdateSponsorRegistry = (%v, %v), want (false, nil)", done, err)
		}
	})

	t.Run("emails unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.installSponsorApp(t, sponsor)
		f.authorize(t, sponsor)
		f.client.emailsErr = errors.New("api down")

		done, err := f.svc.UpdateSponsorRegistry(context.Background(), sponsorable, sponsor, false)
		if err != nil || done {
			t.Fatalf("UpdateSponsorRegistry = (%v, %v), want (false, nil)", done, err)
		}
	})
}
