package reminder

import (
	"errors"
	"time"
)

// ErrNotFound は対象のレコードが存在しないことを表すエラー。
// 永続化層がこのエラーを返すことで、呼び出し側は一時的な障害と区別できる。
var ErrNotFound = errors.New("レコードが見つかりません")

// Event は主催者が作成するイベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// UserID はイベントを作成した主催者のユーザーID。
	UserID string `json:"user_id"`
	// Title はイベントのタイトル。
	Title string `json:"title"`
	// Description はイベントの説明。
	Description string `json:"description"`
	// Location はイベントの開催場所。
	Location string `json:"location"`
	// Date はイベントの開催日時（UTC）。変更すると解決済みの発火日時は
	// すべて無効になり、再実体化が必要になる。
	Date time.Time `json:"event_date"`
	// Specs はリマインダー指定の順序付き一覧。通知はこの一覧の位置
	// （インデックス）で対応づけられる。
	Specs []Spec `json:"reminder_specs"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact は通知の宛先となる連絡先。イベントとは独立に管理される。
type Contact struct {
	// ID は連絡先の一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は連絡先を所有するユーザーID。
	UserID string `json:"user_id"`
	// Name は連絡先の表示名。
	Name string `json:"name"`
	// Email は通知の送信先メールアドレス。
	Email string `json:"email"`
	// Phone は電話番号（任意）。
	Phone string `json:"phone"`
	// Notes はメモ（任意）。
	Notes string `json:"notes"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Subscription はイベントと連絡先の購読関係。
// (EventID, ContactID) の組は一意であり、重複購読は存在しない。
type Subscription struct {
	// ID は購読の一意識別子（UUID）。
	ID string `json:"id"`
	// EventID は購読対象のイベントID。
	EventID string `json:"event_id"`
	// ContactID は購読者の連絡先ID。
	ContactID string `json:"contact_id"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Status は通知の状態を表す。
type Status string

const (
	// StatusPending は送信待ちの通知を表す。
	StatusPending Status = "pending"
	// StatusSending はディスパッチャがクレーム済みで配送中の通知を表す。
	// 配送の同時実行を防ぐための内部状態であり、クレームが放棄された
	// 場合はpendingへ戻される。
	StatusSending Status = "sending"
	// StatusSent は送信済みの通知を表す。終端状態であり以後変更されない。
	StatusSent Status = "sent"
	// StatusFailed は送信に失敗した通知を表す。リトライ上限の超過または
	// 恒久的エラーによってのみ遷移する終端状態。
	StatusFailed Status = "failed"
)

// Notification は1人の購読者への1件のリマインダー送信予定。
// (EventID, ContactID, ReminderIndex) が冪等性キーであり、
// 実体化を何度繰り返しても同じキーの通知は1件しか作られない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// EventID は対象イベントのID。
	EventID string `json:"event_id"`
	// ContactID は宛先連絡先のID。
	ContactID string `json:"contact_id"`
	// UserID はイベント主催者のユーザーID。一覧取得のスコープに使う。
	UserID string `json:"user_id"`
	// ReminderIndex は対応するリマインダー指定のインデックス。
	// 1つのイベントに複数のリマインダーがある場合の区別に使う。
	ReminderIndex int `json:"reminder_index"`
	// ScheduledAt は解決済みの発火日時（UTC）。
	ScheduledAt time.Time `json:"scheduled_at"`
	// SentAt は送信完了日時。未送信の場合はゼロ値。
	SentAt time.Time `json:"sent_at,omitzero"`
	// Status は通知の状態。
	Status Status `json:"status"`
	// Attempts は配送を試行した回数。
	Attempts int64 `json:"attempts"`
	// NextAttemptAt は次に配送を試行してよい日時。バックオフ中でなければゼロ値。
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
	// ClaimedAt はディスパッチャがクレームした日時。未クレームならゼロ値。
	ClaimedAt time.Time `json:"claimed_at,omitzero"`
	// ErrorMessage は直近の失敗理由。
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `json:"updated_at"`
}
