// レスポンスゲートPoCサービスのエントリポイント。
// 保護ステップを通過した印のないレスポンスを境界で遮断し、
// 拒否イベントを監査記録として残す。
package main

import (
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/nao1215/respgate/internal/server"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv, err := server.NewServer(port, logger)
	if err != nil {
		logger.Fatal("サーバーの初期化に失敗", zap.Error(err))
	}

	logger.Info("レスポンスゲートサービスを起動します", zap.String("port", port))
	if err := srv.Run(); err != nil {
		logger.Fatal("サーバーの起動に失敗", zap.Error(err))
	}
}
