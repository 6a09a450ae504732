// Package audit はレスポンスゲートが遮断したリクエストの監査記録を
// SQLiteに永続化する。拒否イベントの調査と保護漏れルートの特定に使用する。
package audit
