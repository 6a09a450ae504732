package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// rejectionBody は拒否応答の固定本文。
const rejectionBody = "Request not whitelisted"

// RejectionRenderer はGateRejectionを固定のクライアント応答へ変換する
// RejectionHandlerを返す。ステータス501と本文 "Request not whitelisted" を
// 返し、違反したポリシーと元のリクエストをエラーレベルでログに残す。
func RejectionRenderer(logger *zap.Logger) RejectionHandler {
	return func(c *gin.Context, rejection *GateRejection) {
		logger.Error("whitelistポリシー違反のレスポンスを遮断しました",
			zap.String("policy", "response-whitelist"),
			zap.String("rejection_id", rejection.ID),
			zap.String("method", rejection.Request.Method),
			zap.String("path", rejection.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Time("occurred_at", rejection.OccurredAt),
		)

		c.String(http.StatusNotImplemented, rejectionBody)
		c.Abort()
	}
}
