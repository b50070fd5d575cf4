// Package reminder はリマインダースケジューリングのコアを提供する。
//
// イベントのリマインダー指定から発火日時を解決し（Resolver）、
// あるべき購読者集合と現在の購読の差分を計算し（Reconciler）、
// 購読者×リマインダー指定の直積から通知レコードのあるべき集合を
// 実体化する（Materializer）。いずれも冪等・収束的に設計されており、
// 再試行・部分失敗・編集の順序入れ替わりの下でも重複送信や送信漏れを
// 起こさない。
package reminder
