package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// setupTestDB はテスト用のインメモリSQLiteを構築するヘルパー関数。
// インメモリSQLiteは接続ごとに独立したデータベースになるため、
// 接続数を1に固定する。
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリSQLiteの接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("マイグレーションがバージョン順に適用されること", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000002_add_column.up.sql": &fstest.MapFile{
				Data: []byte("ALTER TABLE items ADD COLUMN note TEXT;"),
			},
			"migrations/000001_create_items.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
			},
		}

		if err := Run(db, fsys, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("マイグレーションの適用に失敗: %v", err)
		}

		// 両方のマイグレーションが反映されていればINSERTが成功する
		if _, err := db.Exec("INSERT INTO items (id, note) VALUES ('a', 'memo')"); err != nil {
			t.Errorf("マイグレーション後のINSERTに失敗: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("バージョン数の取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("適用済みバージョン数 = %d, want 2", count)
		}
	})

	t.Run("再実行しても適用済みのマイグレーションはスキップされること", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_create_items.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
			},
		}

		if err := Run(db, fsys, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("1回目の適用に失敗: %v", err)
		}
		// CREATE TABLEにIF NOT EXISTSがないため、再適用されればエラーになる
		if err := Run(db, fsys, "migrations", zap.NewNop()); err != nil {
			t.Fatalf("2回目の適用に失敗: %v", err)
		}
	})

	t.Run("不正なSQLでエラーが返り適用済みとして記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_broken.up.sql": &fstest.MapFile{
				Data: []byte("CREATE BROKEN SYNTAX"),
			},
		}

		if err := Run(db, fsys, "migrations", zap.NewNop()); err == nil {
			t.Fatal("不正なSQLでエラーが返らなかった")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("バージョン数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("適用済みバージョン数 = %d, want 0", count)
		}
	})
}
