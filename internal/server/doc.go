// Package server はリマインダーサービスのHTTP APIを提供する。
//
// すべてのAPIはJWT認証の背後にあり、データは認証済みユーザーのIDで
// スコープされる。イベント・購読の書き込みは調整エンジンを通じて
// 通知集合の再実体化を引き起こす。
package server
