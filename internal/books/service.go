package books

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

type Service struct {
	store  *Store
	cache  Cache
	logger *zap.Logger
}

func NewService(db *sql.DB, cache Cache, logger *zap.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{store: NewStore(db), cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Book, error) {
	var cached []Book
	if ok := s.readCache(ctx, listKey, &cached); ok {
		return cached, nil
	}

	out, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, listKey, out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*Book, error) {
	var cached Book
	if ok := s.readCache(ctx, bookKey(id), &cached); ok {
		return &cached, nil
	}

	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, bookKey(id), b)
	return b, nil
}

// Invalidate drops cached entries after inventory changed. Errors are only logged.
func (s *Service) Invalidate(ctx context.Context, id uint64) {
	if err := s.cache.Delete(ctx, bookKey(id), listKey); err != nil {
		s.logger.Warn("Failed to invalidate book cache", zap.Uint64("book_id", id), zap.Error(err))
	}
}

// キャッシュ障害時はDBにフォールバックする
func (s *Service) readCache(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("Book cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *Service) writeCache(ctx context.Context, key string, v any) {
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn("Book cache write failed", zap.String("key", key), zap.Error(err))
	}
}
