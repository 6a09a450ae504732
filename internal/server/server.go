package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/respgate/internal/audit"
	"github.com/nao1215/respgate/pkg/middleware"
)

// Server はレスポンスゲートを組み込んだPoCサービスのHTTPサーバー。
// 全ルートがEnforceWhitelistの内側にあり、保護ステップを通過した印の
// ないレスポンスは監査記録を残したうえで501に置き換えられる。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は拒否イベントの監査ストア。
	store *audit.Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// logger は構造化ロガー。
	logger *zap.Logger
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// render は拒否を501応答へ変換する処理。
	render middleware.RejectionHandler
}

// NewServer は新しいサーバーを生成する。
func NewServer(port string, logger *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", getEnvOr("RESPGATE_DB", "/data/respgate.db?_journal_mode=WAL&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	store, err := audit.NewStore(sqlDB, logger)
	if err != nil {
		return nil, fmt.Errorf("監査ストアの初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	s := &Server{
		port:      port,
		store:     store,
		db:        sqlDB,
		logger:    logger,
		jwtSecret: jwtSecret,
		render:    middleware.RejectionRenderer(logger),
	}

	router := gin.New()
	// ゲートは必ず最初に登録し、全レスポンスパスを覆う
	router.Use(middleware.EnforceWhitelist(middleware.WithRejectionHandler(s.handleRejection())))
	router.Use(middleware.Recovery(logger))
	router.Use(gin.Logger())

	s.router = router
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック（認証不要だがゲートを通すため印を付ける）
	s.router.GET("/health", middleware.Whitelist(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "respgate"})
	})

	// 開発用トークン発行（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/token", middleware.Whitelist(), s.handleIssueToken())
	}

	// 認証必須のAPIエンドポイント。JWTAuthが保護ステップとして
	// レスポンスに印を付ける。
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		api.GET("/ping", s.handlePing())
		api.GET("/rejections", s.handleListRejections())
	}
}

// handleRejection はゲートの拒否を監査記録へ保存し、501応答に変換する
// RejectionHandlerを返す。
func (s *Server) handleRejection() middleware.RejectionHandler {
	return func(c *gin.Context, rejection *middleware.GateRejection) {
		record := audit.Rejection{
			ID:         rejection.ID,
			Method:     rejection.Request.Method,
			Path:       rejection.Request.URL.Path,
			ClientIP:   c.ClientIP(),
			OccurredAt: rejection.OccurredAt,
		}
		if err := s.store.RecordRejection(c.Request.Context(), record); err != nil {
			s.logger.Error("拒否記録の保存に失敗しました",
				zap.String("rejection_id", rejection.ID),
				zap.Error(err),
			)
		}

		s.render(c, rejection)
	}
}

// handleIssueToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleIssueToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := uuid.New().String()

		token, err := middleware.GenerateJWT(s.jwtSecret, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			s.logger.Error("JWT生成に失敗しました", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": userID,
		})
	}
}

// handlePing は疎通確認用のハンドラを返す。
func (s *Server) handlePing() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"user_id": middleware.GetUserID(c),
		})
	}
}

// handleListRejections は拒否イベントの監査記録を新しい順に返すハンドラを返す。
func (s *Server) handleListRejections() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitが不正です"})
			return
		}

		rejections, err := s.store.ListRecent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拒否記録の取得に失敗しました"})
			s.logger.Error("拒否記録の取得に失敗しました", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"rejections": rejections})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
