package identity

import (
	"strings"

	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

var ErrUnknownKey = errors.New("identity: unknown api key")

// Resolver маппит предъявленный API-ключ на актора. Само ядро
// аутентификацией не занимается, оно получает Actor уже готовым.
type Resolver interface {
	Resolve(apiKey string) (models.Actor, error)
}

// StaticResolver резолвит акторов по таблице из конфига.
type StaticResolver struct {
	byKey map[string]models.Actor
}

func NewStaticResolver(actors map[string]models.Actor) *StaticResolver {
	byKey := make(map[string]models.Actor, len(actors))
	for k, a := range actors {
		k = strings.TrimSpace(k)
		if k != "" {
			byKey[k] = a
		}
	}
	return &StaticResolver{byKey: byKey}
}

func (r *StaticResolver) Resolve(apiKey string) (models.Actor, error) {
	a, ok := r.byKey[strings.TrimSpace(apiKey)]
	if !ok {
		return models.Actor{}, ErrUnknownKey
	}
	return a, nil
}
