// Package testutils 提供整合測試用的容器管理
//
// 本套件負責啟動並回收測試容器（testcontainers），
// 讓儲存層的測試跑在真正的 PostgreSQL 上而不是記憶體假件。
// 所有容器都會在測試結束時自動清理。
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresEnv 封裝一座跑在容器裡的 PostgreSQL
type PostgresEnv struct {
	Pool      *pgxpool.Pool
	DSN       string
	container tc.Container
}

// SetupPostgres 啟動 PostgreSQL 測試容器並建立連接池
//
// 使用範例：
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupPostgres(t)
//	    // 使用 env.Pool
//	}
func SetupPostgres(t testing.TB) *PostgresEnv {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("letterduel_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	env := &PostgresEnv{container: container}
	t.Cleanup(func() {
		env.Cleanup()
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.DSN = dsn

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10

	env.Pool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := env.Pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	return env
}

// Cleanup 關閉連接池並回收容器
func (env *PostgresEnv) Cleanup() {
	ctx := context.Background()

	if env.Pool != nil {
		env.Pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
}

// TruncateTables 清空資料表（用於測試之間的清理）
func (env *PostgresEnv) TruncateTables(t testing.TB) {
	t.Helper()

	ctx := context.Background()
	for _, table := range []string{"games", "questions", "users"} {
		if _, err := env.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
}
