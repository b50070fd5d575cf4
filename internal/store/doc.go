// Package store はSQLiteによる永続化コラボレータを提供する。
//
// イベント・連絡先・購読・通知のCRUDに加えて、ディスパッチャが使う
// 発火対象の検索とクレーム（pending→sendingの条件付き更新）を実装する。
// (event_id, contact_id, reminder_index) と (event_id, contact_id) の
// 一意性制約はスキーマで強制される。
package store
