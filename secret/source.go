package secret

import (
	"context"

	"github.com/jmcleod/bankgate/internal/util"
)

// Source fetches the raw banking credential. Implementations return a
// fresh slice the resolver may wipe.
type Source interface {
	Name() string
	Origin() Origin
	Fetch(ctx context.Context) ([]byte, error)
}

// StaticSource serves a fixed value, typically the configured fallback key.
type StaticSource struct {
	value []byte
}

func NewStaticSource(value string) *StaticSource {
	return &StaticSource{value: []byte(value)}
}

func (s *StaticSource) Name() string   { return "static" }
func (s *StaticSource) Origin() Origin { return OriginFallback }

func (s *StaticSource) Fetch(context.Context) ([]byte, error) {
	if len(s.value) == 0 {
		return nil, ErrEmptySecret
	}
	return util.CopyBytes(s.value), nil
}
