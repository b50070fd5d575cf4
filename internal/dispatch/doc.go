// Package dispatch は期日を迎えた通知の送信ループを提供する。
//
// ディスパッチャは一定間隔でストレージをスキャンし、期日を迎えたpendingの
// 通知を1件ずつクレーム（pending→sendingの条件付き更新）してからメールを
// 送信する。クレームに成功したプロセスだけが送信するため、複数プロセスが
// 同じストレージを見ても二重送信は起きない。
//
// 送信失敗は一時的なものと恒久的なものに分類され、一時的な失敗は指数
// バックオフ付きで再試行、恒久的な失敗と再試行上限超過はfailedとして
// 記録される。クラッシュ等で放置されたsendingの通知は、一定時間経過後に
// pendingへ戻されて再試行される。
package dispatch
