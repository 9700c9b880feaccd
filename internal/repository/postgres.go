// Package repository содержит реализацию секционированного хранилища фактов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInstallationNotFound возвращается, если установка приложения не найдена.
var (
	ErrInstallationNotFound = errors.New("installation not found")
	// ErrAuthorizationNotFound возвращается, если пользователь не завершил авторизацию.
	ErrAuthorizationNotFound = errors.New("authorization not found")
	// ErrSponsorshipNotFound возвращается, если факт спонсорства отсутствует в указанной секции.
	ErrSponsorshipNotFound = errors.New("sponsorship not found")
)

// SponsorablePartition возвращает ключ секции спонсорств по получателю.
func SponsorablePartition(sponsorableID string) string {
	return "Sponsorable-" + sponsorableID
}

// SponsorPartition возвращает ключ секции спонсорств по спонсору.
func SponsorPartition(sponsorID string) string {
	return "Sponsor-" + sponsorID
}

// PostgresRepository предоставляет доступ к хранилищу фактов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// SaveInstallation сохраняет установку приложения, заменяя существующую запись.
func (r *PostgresRepository) SaveInstallation(ctx context.Context, kind model.AppKind, inst model.Installation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO installations (kind, account_id, login, state, token, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (kind, account_id)
		 DO UPDATE SET login = $3, state = $4, token = $5, updated_at = now()`,
		string(kind), inst.AccountID, inst.Login, string(inst.State), inst.Token,
	)
	if err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	return nil
}

// GetInstallation возвращает установку приложения для аккаунта.
func (r *PostgresRepository) GetInstallation(ctx context.Context, kind model.AppKind, accountID string) (*model.Installation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT account_id, login, state, token FROM installations WHERE kind = $1 AND account_id = $2`,
		string(kind), accountID,
	)

	var inst model.Installation
	var state string
	err := row.Scan(&inst.AccountID, &inst.Login, &state, &inst.Token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstallationNotFound
		}
		return nil, fmt.Errorf("get installation: %w", err)
	}
	inst.State = model.AppState(state)

	return &inst, nil
}

// ListInstallations возвращает все установки приложения указанного вида.
func (r *PostgresRepository) ListInstallations(ctx context.Context, kind model.AppKind) ([]model.Installation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_id, login, state, token
		 FROM installations
		 WHERE kind = $1
		 ORDER BY account_id`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("select installations: %w", err)
	}
	defer rows.Close()

	var res []model.Installation
	for rows.Next() {
		var inst model.Installation
		var state string
		if err := rows.Scan(&inst.AccountID, &inst.Login, &state, &inst.Token); err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		inst.State = model.AppState(state)
		res = append(res, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveAuthorization сохраняет авторизацию пользователя, заменяя существующую.
func (r *PostgresRepository) SaveAuthorization(ctx context.Context, auth model.Authorization) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO authorizations (account_id, login, access_token, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (account_id)
		 DO UPDATE SET login = $2, access_token = $3, updated_at = now()`,
		auth.AccountID, auth.Login, auth.AccessToken,
	)
	if err != nil {
		return fmt.Errorf("save authorization: %w", err)
	}
	return nil
}

// GetAuthorization возвращает авторизацию пользователя.
func (r *PostgresRepository) GetAuthorization(ctx context.Context, accountID string) (*model.Authorization, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT account_id, login, access_token FROM authorizations WHERE account_id = $1`,
		accountID,
	)

	var auth model.Authorization
	err := row.Scan(&auth.AccountID, &auth.Login, &auth.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, fmt.Errorf("get authorization: %w", err)
	}

	return &auth, nil
}

// PutSponsorship сохраняет факт спонсорства в указанной секции с заменой по конфликту.
// Записи в двух секциях не объединены транзакцией: расхождение между ними
// устраняется последующей сверкой (SyncUser/SyncSponsorable).
func (r *PostgresRepository) PutSponsorship(ctx context.Context, partition, rowKey string, s model.Sponsorship) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO sponsorships
			     (partition, row_key, sponsorable_id, sponsorable_login, sponsor_id, sponsor_login, amount, expires_at, expired, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			 ON CONFLICT (partition, row_key)
			 DO UPDATE SET sponsorable_login = $4, sponsor_login = $6, amount = $7, expires_at = $8, expired = $9, updated_at = now()`,
			partition, rowKey, s.SponsorableID, s.SponsorableLogin, s.SponsorID, s.SponsorLogin, s.Amount, s.ExpiresAt, s.Expired,
		)
		if err != nil {
			return fmt.Errorf("put sponsorship: %w", err)
		}
		return nil
	})
}

// GetSponsorship возвращает факт спонсорства из указанной секции.
func (r *PostgresRepository) GetSponsorship(ctx context.Context, partition, rowKey string) (*model.Sponsorship, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT sponsorable_id, sponsorable_login, sponsor_id, sponsor_login, amount, expires_at, expired
		 FROM sponsorships
		 WHERE partition = $1 AND row_key = $2`,
		partition, rowKey,
	)

	var s model.Sponsorship
	err := row.Scan(&s.SponsorableID, &s.SponsorableLogin, &s.SponsorID, &s.SponsorLogin, &s.Amount, &s.ExpiresAt, &s.Expired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSponsorshipNotFound
		}
		return nil, fmt.Errorf("get sponsorship: %w", err)
	}

	return &s, nil
}

// ListSponsorships возвращает все факты спонсорства из указанной секции.
func (r *PostgresRepository) ListSponsorships(ctx context.Context, partition string) ([]model.Sponsorship, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sponsorable_id, sponsorable_login, sponsor_id, sponsor_login, amount, expires_at, expired
		 FROM sponsorships
		 WHERE partition = $1
		 ORDER BY row_key`,
		partition,
	)
	if err != nil {
		return nil, fmt.Errorf("select sponsorships: %w", err)
	}
	defer rows.Close()

	var res []model.Sponsorship
	for rows.Next() {
		var s model.Sponsorship
		if err := rows.Scan(&s.SponsorableID, &s.SponsorableLogin, &s.SponsorID, &s.SponsorLogin, &s.Amount, &s.ExpiresAt, &s.Expired); err != nil {
			return nil, fmt.Errorf("scan sponsorship: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// PutExpiration сохраняет запись о запланированном истечении в корзине указанной даты.
func (r *PostgresRepository) PutExpiration(ctx context.Context, bucket time.Time, e model.Expiration) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO expirations (bucket, row_key, sponsorable_login, sponsor_login)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (bucket, row_key)
		 DO UPDATE SET sponsorable_login = $3, sponsor_login = $4`,
		model.DateOnly(bucket), e.RowKey, e.SponsorableLogin, e.SponsorLogin,
	)
	if err != nil {
		return fmt.Errorf("put expiration: %w", err)
	}
	return nil
}

// DeleteExpiration удаляет запись об истечении. Отсутствие записи не является ошибкой.
func (r *PostgresRepository) DeleteExpiration(ctx context.Context, bucket time.Time, rowKey string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM expirations WHERE bucket = $1 AND row_key = $2`,
		model.DateOnly(bucket), rowKey,
	)
	if err != nil {
		return fmt.Errorf("delete expiration: %w", err)
	}
	return nil
}

// ListExpirations возвращает записи об истечениях из корзины указанной даты.
func (r *PostgresRepository) ListExpirations(ctx context.Context, bucket time.Time) ([]model.Expiration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT row_key, sponsorable_login, sponsor_login
		 FROM expirations
		 WHERE bucket = $1
		 ORDER BY row_key`,
		model.DateOnly(bucket),
	)
	if err != nil {
		return nil, fmt.Errorf("select expirations: %w", err)
	}
	defer rows.Close()

	var res []model.Expiration
	for rows.Next() {
		var e model.Expiration
		if err := rows.Scan(&e.RowKey, &e.SponsorableLogin, &e.SponsorLogin); err != nil {
			return nil, fmt.Errorf("scan expiration: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveAccount сохраняет денормализованную запись аккаунта для рассылок.
func (r *PostgresRepository) SaveAccount(ctx context.Context, acc model.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, login, email, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (account_id)
		 DO UPDATE SET login = $2, email = $3, updated_at = now()`,
		acc.ID, acc.Login, acc.Email,
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}
