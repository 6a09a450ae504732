package middleware

import (
	"bufio"
	"bytes"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bufferedWriter はステータスコードと本文をバッファし、実際の書き込みを
// EnforceWhitelistの判定後まで遅延するgin.ResponseWriter。
// ヘッダーマップは元のWriterと共有する（ヘッダーは最初の実書き込みまで
// 送信されないため、判定時に書き換えられる）。
type bufferedWriter struct {
	gin.ResponseWriter
	// body はバッファされたレスポンス本文。
	body bytes.Buffer
	// status はバッファされたステータスコード。0は未設定を表す。
	status int
	// passthrough がtrueの場合、以降の書き込みはバッファせず素通しする。
	// ハンドラのFlush/Hijack、またはゲート通過後のフラッシュで遷移する。
	passthrough bool
}

// newBufferedWriter は元のWriterを包むbufferedWriterを生成する。
func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w}
}

// WriteHeader はステータスコードをバッファに記録する。
func (w *bufferedWriter) WriteHeader(code int) {
	if w.passthrough {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if code > 0 {
		w.status = code
	}
}

// WriteHeaderNow はバッファリング中は何もしない。
// 実際のヘッダー送信はゲートの判定後に行う。
func (w *bufferedWriter) WriteHeaderNow() {
	if w.passthrough {
		w.ResponseWriter.WriteHeaderNow()
	}
}

// Write は本文をバッファに追記する。
func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	return w.body.Write(b)
}

// WriteString は文字列をバッファに追記する。
func (w *bufferedWriter) WriteString(s string) (int, error) {
	if w.passthrough {
		return w.ResponseWriter.WriteString(s)
	}
	return w.body.WriteString(s)
}

// Status はバッファされたステータスコードを返す。未設定の場合は200を返す。
func (w *bufferedWriter) Status() int {
	if w.passthrough {
		return w.ResponseWriter.Status()
	}
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Size はバッファされた本文のバイト数を返す。
func (w *bufferedWriter) Size() int {
	if w.passthrough {
		return w.ResponseWriter.Size()
	}
	return w.body.Len()
}

// Written はステータスまたは本文が書き込まれたかどうかを返す。
func (w *bufferedWriter) Written() bool {
	if w.passthrough {
		return w.ResponseWriter.Written()
	}
	return w.status != 0 || w.body.Len() > 0
}

// Flush はストリーミングへの移行とみなし、バッファ済みの内容を
// 送出したうえで以降の書き込みを素通しにする。
func (w *bufferedWriter) Flush() {
	w.startPassthrough()
	w.ResponseWriter.Flush()
}

// Hijack は接続の乗っ取り前にストリーミングへ移行する。
func (w *bufferedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.startPassthrough()
	return w.ResponseWriter.Hijack()
}

// startPassthrough は素通しモードへ遷移する。内部ヘッダーは最初の
// 実書き込み前に必ず取り除き、バッファ済みの内容を送出する。
func (w *bufferedWriter) startPassthrough() {
	if w.passthrough {
		return
	}
	w.passthrough = true
	stripMarker(w.Header())
	w.emitBuffered()
}

// flushBuffered はゲート通過後にバッファ済みの内容を送出する。
func (w *bufferedWriter) flushBuffered() {
	if w.passthrough {
		return
	}
	w.passthrough = true
	w.emitBuffered()
}

// emitBuffered はバッファ済みのステータスと本文を元のWriterへ書き出す。
func (w *bufferedWriter) emitBuffered() {
	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
	}
	w.body.Reset()
}

// discard はバッファ済みのレスポンスを破棄する。共有しているヘッダー
// マップも空にし、破棄したレスポンスのヘッダーが拒否応答へ混入しない
// ようにする。
func (w *bufferedWriter) discard() {
	w.status = 0
	w.body.Reset()
	header := w.Header()
	for key := range header {
		delete(header, key)
	}
}
