package loader

import (
	"context"
	"fmt"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// Content is the raw text pulled out of one source, before chunking.
type Content struct {
	Text  string
	Title string
	Size  int64
	Pages int
}

// Loader fetches the text for one source type. Implementations tag missing
// and forbidden sources with types.ErrSourceNotFound / ErrSourceAccessDenied
// so callers can tell a bad reference from a flaky backend.
type Loader interface {
	Load(ctx context.Context, ref string) (Content, error)
}

// Registry dispatches by source type.
type Registry struct {
	loaders map[types.SourceType]Loader
	log     *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{loaders: map[types.SourceType]Loader{}, log: log}
}

func (r *Registry) Register(st types.SourceType, l Loader) {
	r.loaders[st] = l
}

func (r *Registry) Load(ctx context.Context, st types.SourceType, ref string) (Content, error) {
	l, ok := r.loaders[st]
	if !ok {
		return Content{}, fmt.Errorf("loader: no loader configured for source type %q", st)
	}
	r.log.Info("loading source", "source_type", string(st), "ref", ref)
	return l.Load(ctx, ref)
}
