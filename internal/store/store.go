package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store はSQLiteデータベースへのアクセスをまとめた永続化層。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open は指定パスのSQLiteデータベースを開き、マイグレーションを適用する。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	return New(db)
}

// New は既存のデータベース接続からStoreを生成し、マイグレーションを適用する。
// テストではインメモリデータベースを渡す。
func New(db *sql.DB) (*Store, error) {
	if err := migration.Run(db, migrationFiles, "migrations"); err != nil {
		return nil, fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// utc は時刻をUTCへ正規化する。比較の一貫性のため、永続化する時刻と
// クエリに渡す時刻はすべてこの関数を通す。
func utc(t time.Time) time.Time {
	return t.UTC()
}

// nullTime はゼロ値をNULLへ変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(t), Valid: true}
}

// timeOrZero はNULLをゼロ値へ変換する。
func timeOrZero(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// ---- イベント ----

// CreateEvent はイベントを作成する。
func (s *Store) CreateEvent(ctx context.Context, ev reminder.Event) error {
	specs, err := marshalSpecs(ev.Specs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, title, description, location, event_date, reminder_specs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Title, ev.Description, ev.Location,
		utc(ev.Date), specs, utc(ev.CreatedAt), utc(ev.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("イベントの作成に失敗: %w", err)
	}
	return nil
}

// UpdateEvent はイベントの内容を更新する。
func (s *Store) UpdateEvent(ctx context.Context, ev reminder.Event) error {
	specs, err := marshalSpecs(ev.Specs)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET title = ?, description = ?, location = ?, event_date = ?, reminder_specs = ?, updated_at = ?
		WHERE id = ?`,
		ev.Title, ev.Description, ev.Location, utc(ev.Date), specs, utc(ev.UpdatedAt), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("イベントの更新に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("イベント %s: %w", ev.ID, reminder.ErrNotFound)
	}
	return nil
}

// GetEvent はイベントを1件取得する。
func (s *Store) GetEvent(ctx context.Context, id string) (reminder.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, location, event_date, reminder_specs, created_at, updated_at
		FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Event{}, fmt.Errorf("イベント %s: %w", id, reminder.ErrNotFound)
	}
	return ev, err
}

// ListEventsByUserID はユーザーのイベント一覧を開催日時の昇順で取得する。
func (s *Store) ListEventsByUserID(ctx context.Context, userID string) ([]reminder.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, location, event_date, reminder_specs, created_at, updated_at
		FROM events WHERE user_id = ? ORDER BY event_date ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]reminder.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// NextEventByUserID は指定日時以降で最も近いイベントを取得する。
func (s *Store) NextEventByUserID(ctx context.Context, userID string, now time.Time) (reminder.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, location, event_date, reminder_specs, created_at, updated_at
		FROM events WHERE user_id = ? AND event_date >= ?
		ORDER BY event_date ASC LIMIT 1`, userID, utc(now))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Event{}, fmt.Errorf("今後のイベント: %w", reminder.ErrNotFound)
	}
	return ev, err
}

// CountEventsByUserID はユーザーのイベント総数を返す。
func (s *Store) CountEventsByUserID(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM events WHERE user_id = ?`, userID)
}

// CountUpcomingEventsByUserID は指定日時以降に開催されるイベント数を返す。
func (s *Store) CountUpcomingEventsByUserID(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM events WHERE user_id = ? AND event_date >= ?`, userID, utc(now))
}

// DeleteEvent はイベントを削除し、購読とpending通知をカスケード削除する。
// sent/failedの通知は送信履歴として保持する。
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("イベントの削除に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("イベント %s: %w", id, reminder.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("購読のカスケード削除に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE event_id = ? AND status IN ('pending', 'sending')`, id); err != nil {
		return fmt.Errorf("通知のカスケード削除に失敗: %w", err)
	}
	return tx.Commit()
}

// marshalSpecs はリマインダー指定の一覧をJSONへ変換する。
func marshalSpecs(specs []reminder.Spec) (string, error) {
	if specs == nil {
		specs = []reminder.Spec{}
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return "", fmt.Errorf("リマインダー指定のシリアライズに失敗: %w", err)
	}
	return string(data), nil
}

// scanner はsql.Rowとsql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanEvent は1行をEventへ変換する。
func scanEvent(row scanner) (reminder.Event, error) {
	var ev reminder.Event
	var specsJSON string
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.Title, &ev.Description, &ev.Location,
		&ev.Date, &specsJSON, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return reminder.Event{}, err
	}
	if err := json.Unmarshal([]byte(specsJSON), &ev.Specs); err != nil {
		return reminder.Event{}, fmt.Errorf("リマインダー指定のデシリアライズに失敗: %w", err)
	}
	ev.Date = ev.Date.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	return ev, nil
}

// ---- 連絡先 ----

// CreateContact は連絡先を作成する。
func (s *Store) CreateContact(ctx context.Context, c reminder.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, name, email, phone, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Notes, utc(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("連絡先の作成に失敗: %w", err)
	}
	return nil
}

// UpdateContact は連絡先の内容を更新する。
func (s *Store) UpdateContact(ctx context.Context, c reminder.Contact) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET name = ?, email = ?, phone = ?, notes = ? WHERE id = ?`,
		c.Name, c.Email, c.Phone, c.Notes, c.ID,
	)
	if err != nil {
		return fmt.Errorf("連絡先の更新に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("連絡先 %s: %w", c.ID, reminder.ErrNotFound)
	}
	return nil
}

// GetContact は連絡先を1件取得する。
func (s *Store) GetContact(ctx context.Context, id string) (reminder.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, phone, notes, created_at FROM contacts WHERE id = ?`, id)
	var c reminder.Contact
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Contact{}, fmt.Errorf("連絡先 %s: %w", id, reminder.ErrNotFound)
	}
	if err != nil {
		return reminder.Contact{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// ListContactsByUserID はユーザーの連絡先一覧を名前の昇順で取得する。
func (s *Store) ListContactsByUserID(ctx context.Context, userID string) ([]reminder.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, phone, notes, created_at
		FROM contacts WHERE user_id = ? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("連絡先一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	contacts := make([]reminder.Contact, 0)
	for rows.Next() {
		var c reminder.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// CountContactsByUserID はユーザーの連絡先総数を返す。
func (s *Store) CountContactsByUserID(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM contacts WHERE user_id = ?`, userID)
}

// DeleteContact は連絡先を削除し、購読とpending通知をカスケード削除する。
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("連絡先の削除に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("連絡先 %s: %w", id, reminder.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE contact_id = ?`, id); err != nil {
		return fmt.Errorf("購読のカスケード削除に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE contact_id = ? AND status IN ('pending', 'sending')`, id); err != nil {
		return fmt.Errorf("通知のカスケード削除に失敗: %w", err)
	}
	return tx.Commit()
}

// ---- 購読 ----

// CreateSubscription は購読を作成する。
// (event_id, contact_id) の一意性制約に違反した場合はエラーを返す。
func (s *Store) CreateSubscription(ctx context.Context, sub reminder.Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, event_id, contact_id, created_at) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.EventID, sub.ContactID, utc(createdAt),
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗: %w", err)
	}
	return nil
}

// GetSubscription は購読を1件取得する。
func (s *Store) GetSubscription(ctx context.Context, id string) (reminder.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, contact_id, created_at FROM subscriptions WHERE id = ?`, id)
	var sub reminder.Subscription
	err := row.Scan(&sub.ID, &sub.EventID, &sub.ContactID, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Subscription{}, fmt.Errorf("購読 %s: %w", id, reminder.ErrNotFound)
	}
	if err != nil {
		return reminder.Subscription{}, err
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	return sub, nil
}

// ListSubscriptionsByEventID はイベントの購読一覧を取得する。
func (s *Store) ListSubscriptionsByEventID(ctx context.Context, eventID string) ([]reminder.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, contact_id, created_at
		FROM subscriptions WHERE event_id = ? ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := make([]reminder.Subscription, 0)
	for rows.Next() {
		var sub reminder.Subscription
		if err := rows.Scan(&sub.ID, &sub.EventID, &sub.ContactID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.CreatedAt = sub.CreatedAt.UTC()
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountSubscriptionsByEventID はイベントの購読者数を返す。
func (s *Store) CountSubscriptionsByEventID(ctx context.Context, eventID string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM subscriptions WHERE event_id = ?`, eventID)
}

// DeleteSubscription は購読を削除する。
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("購読 %s: %w", id, reminder.ErrNotFound)
	}
	return nil
}

// ---- 通知 ----

// notificationColumns はnotificationsテーブルのSELECT対象カラム。
// scanNotificationのScan順と一致させること。
const notificationColumns = `id, event_id, contact_id, user_id, reminder_index,
	scheduled_at, sent_at, status, attempts, next_attempt_at, claimed_at,
	error_message, created_at, updated_at`

// CreateNotification はpending通知を作成する。
// 冪等性キー (event_id, contact_id, reminder_index) の一意性制約に
// 違反した場合はエラーを返す。
func (s *Store) CreateNotification(ctx context.Context, n reminder.Notification) error {
	now := time.Now()
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := n.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	status := n.Status
	if status == "" {
		status = reminder.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, event_id, contact_id, user_id, reminder_index,
			scheduled_at, sent_at, status, attempts, next_attempt_at, claimed_at,
			error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EventID, n.ContactID, n.UserID, n.ReminderIndex,
		utc(n.ScheduledAt), nullTime(n.SentAt), string(status), n.Attempts,
		nullTime(n.NextAttemptAt), nullTime(n.ClaimedAt), n.ErrorMessage,
		utc(createdAt), utc(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return nil
}

// GetNotification は通知を1件取得する。
func (s *Store) GetNotification(ctx context.Context, id string) (reminder.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Notification{}, fmt.Errorf("通知 %s: %w", id, reminder.ErrNotFound)
	}
	return n, err
}

// ListNotificationsByEventID はイベントの通知一覧を取得する。
func (s *Store) ListNotificationsByEventID(ctx context.Context, eventID string) ([]reminder.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE event_id = ? ORDER BY scheduled_at ASC, id ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return collectNotifications(rows)
}

// ListNotificationsByUserID はユーザーの通知一覧を発火日時の降順で取得する。
// statusを指定すると状態で絞り込む。配送中（sending）は外部的にはpending
// なので、pending指定時はsendingも含める。
func (s *Store) ListNotificationsByUserID(ctx context.Context, userID string, status reminder.Status, limit int64) ([]reminder.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{userID}
	switch status {
	case "":
	case reminder.StatusPending:
		query += ` AND status IN ('pending', 'sending')`
	default:
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return collectNotifications(rows)
}

// ListRecentNotificationsByUserID はユーザーの通知を作成日時の降順で取得する。
func (s *Store) ListRecentNotificationsByUserID(ctx context.Context, userID string, limit int64) ([]reminder.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return collectNotifications(rows)
}

// CountNotificationsByUserID はユーザーの指定状態の通知数を返す。
func (s *Store) CountNotificationsByUserID(ctx context.Context, userID string, status reminder.Status) (int64, error) {
	if status == reminder.StatusPending {
		return s.count(ctx,
			`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status IN ('pending', 'sending')`, userID)
	}
	return s.count(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = ?`, userID, string(status))
}

// RescheduleNotification はpending通知の発火日時を更新する。
// pending以外の通知は更新しない（sent/failedは不変の履歴）。
func (s *Store) RescheduleNotification(ctx context.Context, id string, scheduledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		utc(scheduledAt), utc(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("通知の発火日時更新に失敗: %w", err)
	}
	return nil
}

// DeleteNotification はpending通知を削除する。
// 配送中・送信済み・失敗の通知は削除しない。
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return nil
}

// ListDueNotifications は発火時刻を過ぎたpending通知を発火日時の昇順で取得する。
// 同時刻の通知はIDで順序を固定する。バックオフ中（next_attempt_atが未来）の
// 通知は選択しない。
func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int64) ([]reminder.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending' AND scheduled_at <= ?
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY scheduled_at ASC, id ASC LIMIT ?`,
		utc(now), utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("発火対象の通知取得に失敗: %w", err)
	}
	return collectNotifications(rows)
}

// ClaimNotification は通知をpendingからsendingへ条件付きで遷移させる。
// 既に他のスキャンがクレーム済みの場合はfalseを返す。現在の状態を条件とした
// 原子的な更新なので、並行するスキャナが同じ通知を二重に配送することはない。
func (s *Store) ClaimNotification(ctx context.Context, id string, claimedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'sending', claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		utc(claimedAt), utc(claimedAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("通知のクレームに失敗: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("通知のクレーム結果の取得に失敗: %w", err)
	}
	return rows == 1, nil
}

// ReleaseAbandonedClaims はクレームが放棄された通知をpendingへ戻す。
// cutoff以前にクレームされたまま残っているsending通知が対象。
// クレーム後・送信記録前のクラッシュで通知が失われないための回復経路で、
// この窓では重複送信があり得る（at-least-once）。
func (s *Store) ReleaseAbandonedClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'pending', claimed_at = NULL, updated_at = ?
		WHERE status = 'sending' AND claimed_at <= ?`,
		utc(time.Now()), utc(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("放棄されたクレームの回収に失敗: %w", err)
	}
	return result.RowsAffected()
}

// MarkNotificationSent はsending通知をsentへ遷移させる。
// sentは終端状態であり、この遷移は通知ごとに一度しか起こらない。
func (s *Store) MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = ?, claimed_at = NULL, next_attempt_at = NULL,
			error_message = '', updated_at = ?
		WHERE id = ? AND status = 'sending'`,
		utc(sentAt), utc(sentAt), id,
	)
	if err != nil {
		return fmt.Errorf("通知の送信記録に失敗: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("送信中の通知 %s: %w", id, reminder.ErrNotFound)
	}
	return nil
}

// RequeueNotification はsending通知をバックオフ付きでpendingへ戻す。
// nextAttemptAtまでは発火対象に選択されない。
func (s *Store) RequeueNotification(ctx context.Context, id string, attempts int64, nextAttemptAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'pending', attempts = ?, next_attempt_at = ?, claimed_at = NULL,
			error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'sending'`,
		attempts, utc(nextAttemptAt), errMsg, utc(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("通知の再キューに失敗: %w", err)
	}
	return nil
}

// MarkNotificationFailed はsending通知をfailedへ遷移させる。
// 恒久的エラーまたはリトライ上限の超過時に呼び出される終端遷移。
func (s *Store) MarkNotificationFailed(ctx context.Context, id string, attempts int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'failed', attempts = ?, claimed_at = NULL, next_attempt_at = NULL,
			error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'sending'`,
		attempts, errMsg, utc(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("通知の失敗記録に失敗: %w", err)
	}
	return nil
}

// collectNotifications は行の集合をNotificationのスライスへ変換する。
func collectNotifications(rows *sql.Rows) ([]reminder.Notification, error) {
	defer func() { _ = rows.Close() }()

	notifications := make([]reminder.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// scanNotification は1行をNotificationへ変換する。
func scanNotification(row scanner) (reminder.Notification, error) {
	var n reminder.Notification
	var status string
	var sentAt, nextAttemptAt, claimedAt sql.NullTime
	if err := row.Scan(&n.ID, &n.EventID, &n.ContactID, &n.UserID, &n.ReminderIndex,
		&n.ScheduledAt, &sentAt, &status, &n.Attempts, &nextAttemptAt, &claimedAt,
		&n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return reminder.Notification{}, err
	}
	n.Status = reminder.Status(status)
	n.ScheduledAt = n.ScheduledAt.UTC()
	n.SentAt = timeOrZero(sentAt)
	n.NextAttemptAt = timeOrZero(nextAttemptAt)
	n.ClaimedAt = timeOrZero(claimedAt)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

// count は単一のCOUNTクエリを実行する。
func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗: %w", err)
	}
	return n, nil
}
