package internal

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter 讀取端點的請求配額守門
//
// 系統設計問題：排行榜、題庫這類讀取端點被刷爆怎麼辦？
//
// 核心挑戰：
//  1. 限流與快取一體 - 視窗內的重複請求不該直接吃 429，
//     能回放快取結果就回放
//  2. 跨實例一致 - 配額狀態放 Redis，多實例共享同一份
//  3. Redis 掛了不能拖垮讀取 - 失敗開放（fail-open），
//     守門失效好過端點全斷
//
// 設計方案：每個客戶端 IP 兩把鑰匙，同一個 TTL 視窗：
//   - rate_limit:{ip} 視窗標記
//   - cache:{ip}      視窗內首個成功回應的快取
//
// 標記在、快取在 → 回放快取；標記在、快取不在 → 429；
// 都不在 → 放行執行，成功則兩把鑰匙一起 SETEX
type RateLimiter struct {
	store  rateStore
	window time.Duration
	logger *slog.Logger
}

// rateStore 抽象出限流需要的 Redis 操作，測試以假件替換
type rateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
}

// NewRateLimiter 創建限流守門
func NewRateLimiter(store rateStore, logger *slog.Logger, cfg *Config) *RateLimiter {
	return &RateLimiter{
		store:  store,
		window: cfg.RateLimit.Window,
		logger: logger,
	}
}

const (
	rateLimitKeyPrefix = "rate_limit:"
	cacheKeyPrefix     = "cache:"
)

// Guard 包裝讀取端點
func (rl *RateLimiter) Guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ctx := r.Context()

		_, markerFound, err := rl.store.Get(ctx, rateLimitKeyPrefix+ip)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, failing open",
				slog.String("ip", ip),
				slog.Any("error", err))
			next(w, r)
			return
		}

		if markerFound {
			cached, cacheFound, err := rl.store.Get(ctx, cacheKeyPrefix+ip)
			if err == nil && cacheFound {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(cached))
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":"RATE_LIMITED","message":"rate limit exceeded"}`))
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		// 只有成功回應才佔用視窗並進快取，
		// 失敗的請求不該把客戶端鎖在錯誤結果上
		if rec.status != http.StatusOK {
			return
		}

		if err := rl.store.SetEx(ctx, rateLimitKeyPrefix+ip, "1", rl.window); err != nil {
			rl.logger.Warn("rate limiter marker write failed",
				slog.String("ip", ip),
				slog.Any("error", err))
			return
		}
		if err := rl.store.SetEx(ctx, cacheKeyPrefix+ip, rec.body.String(), rl.window); err != nil {
			rl.logger.Warn("rate limiter cache write failed",
				slog.String("ip", ip),
				slog.Any("error", err))
		}
	}
}

// responseRecorder 邊寫邊留底，供視窗快取使用
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

// clientIP 解析客戶端 IP，經過代理時取 X-Forwarded-For 首項
//
// 此標頭由客戶端可自由填寫，只有部署在會覆寫它的
// 可信代理後面才算數；直連部署要在邊界把它剝掉
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RedisRateStore go-redis 實作的限流儲存
type RedisRateStore struct {
	client *redis.Client
}

// NewRedisRateStore 創建 Redis 限流儲存
func NewRedisRateStore(client *redis.Client) *RedisRateStore {
	return &RedisRateStore{client: client}
}

// Get 讀取鍵值，不存在不是錯誤
func (s *RedisRateStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetEx 寫入帶 TTL 的鍵值
func (s *RedisRateStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.SetEx(ctx, key, value, ttl).Err()
}
