// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 中核はレスポンスゲート（EnforceWhitelist / Whitelist）であり、
// 保護ステップを通過した印を持つレスポンスだけをクライアントへ送出する。
// そのほかJWT認証、パニックリカバリなど共通して使用する
// ミドルウェアを含む。
package middleware
