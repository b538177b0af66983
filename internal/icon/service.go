package icon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/iceblink/internal/model"
	"github.com/hitoshi/iceblink/internal/security"
)

// 取得結果ラベル。metrics.Collectorのラベル値と一致させる。
const (
	resultCacheHit = "cache_hit"
	resultFetched  = "fetched"
	resultNotFound = "not_found"
	resultBlocked  = "blocked"
)

// Recorder はアイコン取得結果をメトリクスに記録する。
type Recorder interface {
	RecordIconFetch(result string)
}

// IconFetcher はアイコン取得のインターフェース。
type IconFetcher interface {
	Fetch(ctx context.Context, iconURL, websiteURL string) (*Icon, error)
}

// Service はコードのアイコンをキャッシュ経由で返す。
type Service struct {
	fetcher  IconFetcher
	cache    Cache
	ttl      time.Duration
	recorder Recorder
}

// NewService は新しいServiceを生成する。recorderはnilでもよい。
func NewService(fetcher IconFetcher, cache Cache, ttl time.Duration, recorder Recorder) *Service {
	return &Service{
		fetcher:  fetcher,
		cache:    cache,
		ttl:      ttl,
		recorder: recorder,
	}
}

// IconForCode はコードのicon_url、website_urlからアイコンを解決する。
// 所有者の確認は呼び出し側で済ませておくこと。
// 取得できない場合はICON_NOT_FOUNDのAPIErrorを返す。
func (s *Service) IconForCode(ctx context.Context, code *model.Code) (*Icon, error) {
	iconURL := deref(code.IconURL)
	websiteURL := deref(code.WebsiteURL)
	if iconURL == "" && websiteURL == "" {
		return nil, model.NewIconNotFoundError(code.ID)
	}

	key := cacheKey(iconURL, websiteURL)

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("icon cache read failed", slog.String("error", err.Error()))
	} else if cached != nil {
		s.record(resultCacheHit)
		return cached, nil
	}

	ic, err := s.fetcher.Fetch(ctx, iconURL, websiteURL)
	if err != nil {
		result := resultNotFound
		if errors.Is(err, security.ErrBlockedURL) {
			result = resultBlocked
		}
		s.record(result)
		slog.Info("icon fetch failed",
			slog.String("code_id", code.ID),
			slog.String("result", result),
			slog.String("error", err.Error()),
		)
		return nil, model.NewIconNotFoundError(code.ID)
	}

	s.record(resultFetched)
	if err := s.cache.Set(ctx, key, ic, s.ttl); err != nil {
		slog.Warn("icon cache write failed", slog.String("error", err.Error()))
	}
	return ic, nil
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordIconFetch(result)
	}
}

// cacheKey はURLの組からキャッシュキーを作る。
// URLが変わればキーも変わるため、編集後に古いアイコンを返さない。
func cacheKey(iconURL, websiteURL string) string {
	sum := sha256.Sum256([]byte(iconURL + "\x00" + websiteURL))
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
