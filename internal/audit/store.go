package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/respgate/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// Rejection はゲートが遮断した1件のリクエストの監査記録。
type Rejection struct {
	// ID は拒否イベントの一意識別子。GateRejection.IDと対応する。
	ID string `json:"id"`
	// Method は遮断されたリクエストのHTTPメソッド。
	Method string `json:"method"`
	// Path は遮断されたリクエストのパス。
	Path string `json:"path"`
	// ClientIP はリクエスト元のIPアドレス。
	ClientIP string `json:"client_ip"`
	// OccurredAt は遮断が発生した日時。
	OccurredAt time.Time `json:"occurred_at"`
}

// Store は拒否イベントの監査記録を管理するSQLiteストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore はマイグレーションを適用したうえで新しいStoreを生成する。
func NewStore(db *sql.DB, logger *zap.Logger) (*Store, error) {
	if err := migration.Run(db, migrationsFS, "migrations", logger); err != nil {
		return nil, fmt.Errorf("監査ストアのマイグレーションに失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordRejection は拒否イベントを1件記録する。
func (s *Store) RecordRejection(ctx context.Context, rejection Rejection) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rejections (id, method, path, client_ip, occurred_at) VALUES (?, ?, ?, ?, ?)",
		rejection.ID,
		rejection.Method,
		rejection.Path,
		rejection.ClientIP,
		rejection.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("拒否記録の保存に失敗: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の拒否記録を取得する。
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Rejection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, method, path, client_ip, occurred_at FROM rejections ORDER BY occurred_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("拒否記録の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rejections []Rejection
	for rows.Next() {
		var r Rejection
		if err := rows.Scan(&r.ID, &r.Method, &r.Path, &r.ClientIP, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("拒否記録の読み取りに失敗: %w", err)
		}
		rejections = append(rejections, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("拒否記録の走査に失敗: %w", err)
	}
	return rejections, nil
}
