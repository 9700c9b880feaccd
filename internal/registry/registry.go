// Package registry реализует запись в публикуемый реестр активных спонсорств.
//
// Реестр — внешний справочник, по которому клиенты на этапе сборки проверяют
// статус спонсорства по адресу электронной почты. Сервис владеет только
// записывающей стороной; реестр никогда не должен заявлять спонсорство,
// которого нет в подтверждённых фактах.
package registry

import (
	"context"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

// Registry описывает записывающую сторону публикуемого реестра.
// Все операции идемпотентны: повторный вызов не меняет наблюдаемого состояния.
type Registry interface {
	RegisterSponsor(ctx context.Context, sponsorable, sponsor model.AccountID, emails []string, member bool) error
	UnregisterSponsor(ctx context.Context, sponsorable, sponsor model.AccountID) error
	RegisterApp(ctx context.Context, account model.AccountID, emails []string) error
	UnregisterApp(ctx context.Context, account model.AccountID) error
}
