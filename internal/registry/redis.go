package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/sponsorlink-system/internal/metrics"
	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

const (
	sponsorKeyPrefix   = "sponsorlink:sponsorable:"
	pairKeyPrefix      = "sponsorlink:pair:"
	appKeyPrefix       = "sponsorlink:app:"
	appEmailsKeyPrefix = "sponsorlink:app-emails:"

	roleSponsor = "sponsor"
	roleMember  = "member"
)

// RedisRegistry хранит публикуемый реестр в Redis.
//
// Записи поиска ("{sponsorable}:{email}" и "app:{email}") дополняются служебными
// наборами адресов по паре и по аккаунту: только так UnregisterSponsor и
// UnregisterApp могут удалить ровно то, что было записано ранее, не зная
// актуального списка адресов пользователя.
type RedisRegistry struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

// NewRedisRegistry создаёт реестр поверх указанного клиента Redis.
func NewRedisRegistry(client *redis.Client, m *metrics.Metrics) *RedisRegistry {
	return &RedisRegistry{client: client, metrics: m}
}

func sponsorKey(sponsorableID, email string) string {
	return sponsorKeyPrefix + sponsorableID + ":" + email
}

func pairKey(sponsorableID, sponsorID string) string {
	return pairKeyPrefix + sponsorableID + ":" + sponsorID
}

// RegisterSponsor публикует связь sponsorable→sponsor по всем подтверждённым
// адресам. Записи от предыдущей публикации пары, для которых адрес исчез,
// удаляются: реестр не должен заявлять больше, чем известно сейчас.
func (r *RedisRegistry) RegisterSponsor(ctx context.Context, sponsorable, sponsor model.AccountID, emails []string, member bool) error {
	previous, err := r.client.SMembers(ctx, pairKey(sponsorable.ID, sponsor.ID)).Result()
	if err != nil {
		return fmt.Errorf("read pair emails: %w", err)
	}

	role := roleSponsor
	if member {
		role = roleMember
	}

	pipe := r.client.Pipeline()
	for _, stale := range missing(previous, emails) {
		pipe.Del(ctx, sponsorKey(sponsorable.ID, stale))
		pipe.SRem(ctx, pairKey(sponsorable.ID, sponsor.ID), stale)
	}
	for _, email := range emails {
		pipe.Set(ctx, sponsorKey(sponsorable.ID, email), role, 0)
		pipe.SAdd(ctx, pairKey(sponsorable.ID, sponsor.ID), email)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register sponsor: %w", err)
	}

	r.metrics.RegistryOps.WithLabelValues("register_sponsor").Inc()
	return nil
}

// UnregisterSponsor удаляет все записи, опубликованные для пары
// sponsorable→sponsor. Отсутствие записей не является ошибкой.
func (r *RedisRegistry) UnregisterSponsor(ctx context.Context, sponsorable, sponsor model.AccountID) error {
	emails, err := r.client.SMembers(ctx, pairKey(sponsorable.ID, sponsor.ID)).Result()
	if err != nil {
		return fmt.Errorf("read pair emails: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, email := range emails {
		pipe.Del(ctx, sponsorKey(sponsorable.ID, email))
	}
	pipe.Del(ctx, pairKey(sponsorable.ID, sponsor.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregister sponsor: %w", err)
	}

	r.metrics.RegistryOps.WithLabelValues("unregister_sponsor").Inc()
	return nil
}

// RegisterApp публикует связь адресов с аккаунтом, установившим приложение.
func (r *RedisRegistry) RegisterApp(ctx context.Context, account model.AccountID, emails []string) error {
	previous, err := r.client.SMembers(ctx, appEmailsKeyPrefix+account.ID).Result()
	if err != nil {
		return fmt.Errorf("read app emails: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, stale := range missing(previous, emails) {
		pipe.Del(ctx, appKeyPrefix+stale)
		pipe.SRem(ctx, appEmailsKeyPrefix+account.ID, stale)
	}
	for _, email := range emails {
		pipe.Set(ctx, appKeyPrefix+email, account.Login, 0)
		pipe.SAdd(ctx, appEmailsKeyPrefix+account.ID, email)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register app: %w", err)
	}

	r.metrics.RegistryOps.WithLabelValues("register_app").Inc()
	return nil
}

// UnregisterApp удаляет все ранее опубликованные для аккаунта адреса.
// Список актуальных адресов при этом не нужен — именно поэтому ведётся
// служебный набор.
func (r *RedisRegistry) UnregisterApp(ctx context.Context, account model.AccountID) error {
	emails, err := r.client.SMembers(ctx, appEmailsKeyPrefix+account.ID).Result()
	if err != nil {
		return fmt.Errorf("read app emails: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, email := range emails {
		pipe.Del(ctx, appKeyPrefix+email)
	}
	pipe.Del(ctx, appEmailsKeyPrefix+account.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregister app: %w", err)
	}

	r.metrics.RegistryOps.WithLabelValues("unregister_app").Inc()
	return nil
}

// missing возвращает элементы old, отсутствующие в current.
func missing(old, current []string) []string {
	present := make(map[string]struct{}, len(current))
	for _, v := range current {
		present[v] = struct{}{}
	}

	var res []string
	for _, v := range old {
		if _, ok := present[v]; !ok {
			res = append(res, v)
		}
	}

	return res
}
