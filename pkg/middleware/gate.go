package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// markerHeader は保護ステップ通過の印として内部的に使用するヘッダー名。
// クライアントに到達するレスポンスには決して含まれない。
const markerHeader = "Whitelisted"

// markerValue はmarkerHeaderに設定する固定値。
const markerValue = "yes"

// GateRejection はwhitelist印を持たないレスポンスを遮断したときに生成される失敗値。
// 元のリクエストへの参照を保持し、errors.Asで捕捉できるようerrorを実装する。
type GateRejection struct {
	// ID は拒否イベントの一意識別子。監査記録との突き合わせに使用する。
	ID string
	// Request は遮断されたレスポンスの元となったHTTPリクエスト。
	Request *http.Request
	// OccurredAt は遮断が発生した日時。
	OccurredAt time.Time
}

// Error はerrorインターフェースを実装する。
func (r *GateRejection) Error() string {
	return fmt.Sprintf("response not whitelisted: %s %s", r.Request.Method, r.Request.URL.Path)
}

// RejectionHandler はGateRejectionをクライアント向けレスポンスへ変換する処理。
// EnforceWhitelistのWithRejectionHandlerオプションで登録する。
type RejectionHandler func(c *gin.Context, rejection *GateRejection)

// GateOption はEnforceWhitelistの構築時オプション。
type GateOption func(*gateConfig)

// gateConfig はレスポンスゲートの設定。
type gateConfig struct {
	// handler は拒否時に呼び出される処理。
	handler RejectionHandler
}

// WithRejectionHandler は拒否時の処理を登録するオプションを返す。
// 未登録の場合、拒否はGinコンテキストのエラーリストに記録され、
// 汎用の500レスポンスが返る（拒否が握り潰されることはない）。
func WithRejectionHandler(h RejectionHandler) GateOption {
	return func(cfg *gateConfig) {
		cfg.handler = h
	}
}

// Whitelist は内側のハンドラが生成したレスポンスにwhitelist印を付ける
// Ginミドルウェアを返す。保護ステップを独自に実装するルートで使用する。
// 重ねて適用しても最終的なレスポンスにヘッダーが重複することはない
// （EnforceWhitelistが通過時に印を全て取り除くため）。
//
// EnforceWhitelistの内側で使用すること。ゲートなしで使用すると
// 内部ヘッダーがクライアントへ漏れる。
func Whitelist() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		c.Writer.Header().Add(markerHeader, markerValue)
	}
}

// EnforceWhitelist はルーティングツリー全体のレスポンスを検査する
// Ginミドルウェアを返す。router.Useで必ず最初に登録すること
// （最も外側で全レスポンスパスを覆う必要がある）。
//
// 完成したレスポンスにwhitelist印があれば印を全て取り除いて送出し、
// なければレスポンスを破棄してGateRejectionを生成し、登録された
// RejectionHandlerへ引き渡す。NoRouteの404やハンドラのエラー応答も
// 例外なく検査対象となる。
//
// ハンドラが明示的にFlushまたはHijackしたストリーミングレスポンスは
// 検査対象外（素通し）とする。その場合も内部ヘッダーは最初の
// フラッシュ前に取り除かれるため、クライアントへ漏れることはない。
func EnforceWhitelist(opts ...GateOption) gin.HandlerFunc {
	cfg := gateConfig{handler: defaultRejectionHandler}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		bw := newBufferedWriter(c.Writer)
		c.Writer = bw

		c.Next()

		c.Writer = bw.ResponseWriter

		// ストリーミングへ移行したレスポンスは検査しない
		if bw.passthrough {
			return
		}

		if stripMarker(bw.Header()) {
			bw.flushBuffered()
			return
		}

		rejection := &GateRejection{
			ID:         uuid.New().String(),
			Request:    c.Request,
			OccurredAt: time.Now(),
		}
		bw.discard()
		cfg.handler(c, rejection)
	}
}

// stripMarker はヘッダーからwhitelist印を全て（重複分も含めて）取り除き、
// 1つ以上存在したかどうかを返す。ハンドラがヘッダーマップを直接操作した
// 場合に備え、キーは大文字小文字を区別せず比較する。
func stripMarker(header http.Header) bool {
	found := false
	for key := range header {
		if strings.EqualFold(key, markerHeader) {
			delete(header, key)
			found = true
		}
	}
	return found
}

// defaultRejectionHandler はRejectionHandler未登録時の既定処理。
// 拒否をコンテキストのエラーリストに記録し、汎用の500レスポンスを返す。
func defaultRejectionHandler(c *gin.Context, rejection *GateRejection) {
	_ = c.Error(rejection)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "レスポンスの送出が許可されていません",
	})
}
