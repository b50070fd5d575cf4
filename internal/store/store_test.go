package store

import (
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/remind/internal/reminder"
)

// setupTestStore はインメモリSQLiteでテスト用Storeを構築する。
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// インメモリDBは接続ごとに別のデータベースになるため1接続に固定する
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		t.Fatalf("Storeの初期化に失敗: %v", err)
	}
	return s
}

// createTestEvent はテスト用イベントをDBに挿入するヘルパー関数。
func createTestEvent(t *testing.T, s *Store, id, userID string, date time.Time, specs ...reminder.Spec) reminder.Event {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := reminder.Event{
		ID: id, UserID: userID, Title: "打ち合わせ", Date: date, Specs: specs,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateEvent(t.Context(), ev); err != nil {
		t.Fatalf("テスト用イベントの作成に失敗: %v", err)
	}
	return ev
}

// createTestContact はテスト用連絡先をDBに挿入するヘルパー関数。
func createTestContact(t *testing.T, s *Store, id, userID, name string) reminder.Contact {
	t.Helper()
	ct := reminder.Contact{
		ID: id, UserID: userID, Name: name, Email: name + "@example.com",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.CreateContact(t.Context(), ct); err != nil {
		t.Fatalf("テスト用連絡先の作成に失敗: %v", err)
	}
	return ct
}

// createTestNotification はテスト用pending通知をDBに挿入するヘルパー関数。
func createTestNotification(t *testing.T, s *Store, id, eventID, contactID string, index int, scheduledAt time.Time) reminder.Notification {
	t.Helper()
	n := reminder.Notification{
		ID: id, EventID: eventID, ContactID: contactID, UserID: "user-1",
		ReminderIndex: index, ScheduledAt: scheduledAt, Status: reminder.StatusPending,
	}
	if err := s.CreateNotification(t.Context(), n); err != nil {
		t.Fatalf("テスト用通知の作成に失敗: %v", err)
	}
	return n
}

// TestEventCRUD はイベントの基本的な永続化操作のテスト。
func TestEventCRUD(t *testing.T) {
	t.Parallel()

	t.Run("作成したイベントを取得できる", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		date := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestEvent(t, s, "event-1", "user-1", date,
			reminder.Spec{Kind: reminder.KindRelative, Amount: 1, Unit: reminder.UnitDays})

		got, err := s.GetEvent(t.Context(), "event-1")
		if err != nil {
			t.Fatalf("イベントの取得に失敗: %v", err)
		}
		if got.Title != "打ち合わせ" {
			t.Errorf("タイトル: got %s, want 打ち合わせ", got.Title)
		}
		if !got.Date.Equal(date) {
			t.Errorf("開催日時: got %v, want %v", got.Date, date)
		}
		if len(got.Specs) != 1 || got.Specs[0].Amount != 1 {
			t.Errorf("リマインダー指定が保持されるべき: %+v", got.Specs)
		}
	})

	t.Run("存在しないイベントはErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		if _, err := s.GetEvent(t.Context(), "missing"); !errors.Is(err, reminder.ErrNotFound) {
			t.Errorf("ErrNotFoundが返るべき: got %v", err)
		}
	})

	t.Run("更新が反映される", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		ev := createTestEvent(t, s, "event-1", "user-1", time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))

		ev.Title = "新しいタイトル"
		ev.Date = ev.Date.Add(24 * time.Hour)
		if err := s.UpdateEvent(t.Context(), ev); err != nil {
			t.Fatalf("イベントの更新に失敗: %v", err)
		}

		got, err := s.GetEvent(t.Context(), "event-1")
		if err != nil {
			t.Fatalf("イベントの取得に失敗: %v", err)
		}
		if got.Title != "新しいタイトル" {
			t.Errorf("タイトル: got %s, want 新しいタイトル", got.Title)
		}
	})

	t.Run("存在しないイベントの更新はErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		err := s.UpdateEvent(t.Context(), reminder.Event{ID: "missing", Title: "x"})
		if !errors.Is(err, reminder.ErrNotFound) {
			t.Errorf("ErrNotFoundが返るべき: got %v", err)
		}
	})

	t.Run("一覧は開催日時の昇順で返る", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestEvent(t, s, "event-late", "user-1", base.Add(48*time.Hour))
		createTestEvent(t, s, "event-early", "user-1", base)
		createTestEvent(t, s, "event-other", "user-2", base)

		events, err := s.ListEventsByUserID(t.Context(), "user-1")
		if err != nil {
			t.Fatalf("一覧の取得に失敗: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("イベント数: got %d, want 2", len(events))
		}
		if events[0].ID != "event-early" {
			t.Errorf("先頭: got %s, want event-early", events[0].ID)
		}
	})
}

// TestDeleteEventCascade はイベント削除時のカスケード動作のテスト。
func TestDeleteEventCascade(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ev := createTestEvent(t, s, "event-1", "user-1", time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	createTestContact(t, s, "contact-a", "user-1", "alice")
	if err := s.CreateSubscription(t.Context(), reminder.Subscription{
		ID: "sub-a", EventID: ev.ID, ContactID: "contact-a",
	}); err != nil {
		t.Fatalf("購読の作成に失敗: %v", err)
	}

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	createTestNotification(t, s, "notif-pending", ev.ID, "contact-a", 0, at)
	createTestNotification(t, s, "notif-sent", ev.ID, "contact-a", 1, at)
	if ok, err := s.ClaimNotification(t.Context(), "notif-sent", at); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}
	if err := s.MarkNotificationSent(t.Context(), "notif-sent", at); err != nil {
		t.Fatalf("送信記録に失敗: %v", err)
	}

	if err := s.DeleteEvent(t.Context(), ev.ID); err != nil {
		t.Fatalf("イベントの削除に失敗: %v", err)
	}

	if _, err := s.GetEvent(t.Context(), ev.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("イベントは削除されるべき: got %v", err)
	}
	if _, err := s.GetSubscription(t.Context(), "sub-a"); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("購読はカスケード削除されるべき: got %v", err)
	}
	if _, err := s.GetNotification(t.Context(), "notif-pending"); !errors.Is(err, reminder.ErrNotFound) {
		t.Errorf("pending通知はカスケード削除されるべき: got %v", err)
	}
	if _, err := s.GetNotification(t.Context(), "notif-sent"); err != nil {
		t.Errorf("送信済み通知は履歴として保持されるべき: got %v", err)
	}
}

// TestSubscriptionUniqueness は購読の一意性制約のテスト。
func TestSubscriptionUniqueness(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	sub := reminder.Subscription{ID: "sub-1", EventID: "event-1", ContactID: "contact-a"}
	if err := s.CreateSubscription(t.Context(), sub); err != nil {
		t.Fatalf("購読の作成に失敗: %v", err)
	}

	dup := reminder.Subscription{ID: "sub-2", EventID: "event-1", ContactID: "contact-a"}
	if err := s.CreateSubscription(t.Context(), dup); err == nil {
		t.Error("同じイベント・連絡先の組の重複購読はエラーになるべき")
	}
}

// TestNotificationIdempotencyKey は通知の冪等性キー制約のテスト。
func TestNotificationIdempotencyKey(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	createTestNotification(t, s, "notif-1", "event-1", "contact-a", 0, at)

	err := s.CreateNotification(t.Context(), reminder.Notification{
		ID: "notif-2", EventID: "event-1", ContactID: "contact-a", UserID: "user-1",
		ReminderIndex: 0, ScheduledAt: at, Status: reminder.StatusPending,
	})
	if err == nil {
		t.Error("同じ冪等性キーの通知の作成はエラーになるべき")
	}

	// インデックスが違えば作成できる
	err = s.CreateNotification(t.Context(), reminder.Notification{
		ID: "notif-3", EventID: "event-1", ContactID: "contact-a", UserID: "user-1",
		ReminderIndex: 1, ScheduledAt: at, Status: reminder.StatusPending,
	})
	if err != nil {
		t.Errorf("インデックスの異なる通知は作成できるべき: %v", err)
	}
}

// TestListDueNotifications は発火対象の通知選択のテスト。
func TestListDueNotifications(t *testing.T) {
	t.Parallel()

	t.Run("発火時刻を過ぎたpending通知だけを昇順で返す", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestNotification(t, s, "notif-due-late", "event-1", "contact-a", 0, now.Add(-time.Hour))
		createTestNotification(t, s, "notif-due-early", "event-1", "contact-b", 0, now.Add(-2*time.Hour))
		createTestNotification(t, s, "notif-future", "event-1", "contact-c", 0, now.Add(time.Hour))

		due, err := s.ListDueNotifications(t.Context(), now, 10)
		if err != nil {
			t.Fatalf("発火対象の取得に失敗: %v", err)
		}
		if len(due) != 2 {
			t.Fatalf("発火対象数: got %d, want 2", len(due))
		}
		if due[0].ID != "notif-due-early" || due[1].ID != "notif-due-late" {
			t.Errorf("発火日時の昇順で返るべき: got [%s, %s]", due[0].ID, due[1].ID)
		}
	})

	t.Run("バックオフ中の通知は選択されない", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestNotification(t, s, "notif-1", "event-1", "contact-a", 0, now.Add(-time.Hour))

		// 一度クレームして再キュー（next_attempt_atが未来）
		if ok, err := s.ClaimNotification(t.Context(), "notif-1", now); err != nil || !ok {
			t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
		}
		if err := s.RequeueNotification(t.Context(), "notif-1", 1, now.Add(30*time.Minute), "一時的な失敗"); err != nil {
			t.Fatalf("再キューに失敗: %v", err)
		}

		due, err := s.ListDueNotifications(t.Context(), now, 10)
		if err != nil {
			t.Fatalf("発火対象の取得に失敗: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("バックオフ中は選択されないべき: got %d件", len(due))
		}

		// バックオフ期限を過ぎれば選択される
		due, err = s.ListDueNotifications(t.Context(), now.Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("発火対象の取得に失敗: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("バックオフ期限後は選択されるべき: got %d件", len(due))
		}
		if due[0].Attempts != 1 {
			t.Errorf("試行回数: got %d, want 1", due[0].Attempts)
		}
	})

	t.Run("sending・sent・failedの通知は選択されない", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		past := now.Add(-time.Hour)
		createTestNotification(t, s, "notif-sending", "event-1", "contact-a", 0, past)
		createTestNotification(t, s, "notif-sent", "event-1", "contact-b", 0, past)
		createTestNotification(t, s, "notif-failed", "event-1", "contact-c", 0, past)

		for _, id := range []string{"notif-sending", "notif-sent", "notif-failed"} {
			if ok, err := s.ClaimNotification(t.Context(), id, now); err != nil || !ok {
				t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
			}
		}
		if err := s.MarkNotificationSent(t.Context(), "notif-sent", now); err != nil {
			t.Fatalf("送信記録に失敗: %v", err)
		}
		if err := s.MarkNotificationFailed(t.Context(), "notif-failed", 5, "恒久的な失敗"); err != nil {
			t.Fatalf("失敗記録に失敗: %v", err)
		}

		due, err := s.ListDueNotifications(t.Context(), now, 10)
		if err != nil {
			t.Fatalf("発火対象の取得に失敗: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("pending以外は選択されないべき: got %d件", len(due))
		}
	})
}

// TestClaimNotification はクレームの条件付き更新のテスト。
func TestClaimNotification(t *testing.T) {
	t.Parallel()

	t.Run("pending通知のクレームは一度だけ成功する", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestNotification(t, s, "notif-1", "event-1", "contact-a", 0, now.Add(-time.Hour))

		first, err := s.ClaimNotification(t.Context(), "notif-1", now)
		if err != nil {
			t.Fatalf("1回目のクレームに失敗: %v", err)
		}
		if !first {
			t.Error("1回目のクレームは成功するべき")
		}

		second, err := s.ClaimNotification(t.Context(), "notif-1", now)
		if err != nil {
			t.Fatalf("2回目のクレームに失敗: %v", err)
		}
		if second {
			t.Error("クレーム済みの通知の再クレームは失敗するべき")
		}
	})

	t.Run("並行クレームはちょうど1つだけ成功する", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		createTestNotification(t, s, "notif-1", "event-1", "contact-a", 0, now.Add(-time.Hour))

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan bool, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := s.ClaimNotification(t.Context(), "notif-1", now)
				if err != nil {
					t.Errorf("クレームに失敗: %v", err)
					return
				}
				results <- claimed
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for claimed := range results {
			if claimed {
				succeeded++
			}
		}
		if succeeded != 1 {
			t.Errorf("クレーム成功数: got %d, want 1", succeeded)
		}
	})
}

// TestReleaseAbandonedClaims は放置されたクレームの回収のテスト。
func TestReleaseAbandonedClaims(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	createTestNotification(t, s, "notif-old", "event-1", "contact-a", 0, now.Add(-2*time.Hour))
	createTestNotification(t, s, "notif-recent", "event-1", "contact-b", 0, now.Add(-2*time.Hour))

	// notif-oldは30分前に、notif-recentは直前にクレームされた
	if ok, err := s.ClaimNotification(t.Context(), "notif-old", now.Add(-30*time.Minute)); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}
	if ok, err := s.ClaimNotification(t.Context(), "notif-recent", now); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}

	released, err := s.ReleaseAbandonedClaims(t.Context(), now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("回収に失敗: %v", err)
	}
	if released != 1 {
		t.Errorf("回収数: got %d, want 1", released)
	}

	old, err := s.GetNotification(t.Context(), "notif-old")
	if err != nil {
		t.Fatalf("通知の取得に失敗: %v", err)
	}
	if old.Status != reminder.StatusPending {
		t.Errorf("放置された通知はpendingに戻るべき: got %s", old.Status)
	}

	recent, err := s.GetNotification(t.Context(), "notif-recent")
	if err != nil {
		t.Fatalf("通知の取得に失敗: %v", err)
	}
	if recent.Status != reminder.StatusSending {
		t.Errorf("新しいクレームは維持されるべき: got %s", recent.Status)
	}
}

// TestNotificationImmutableHistory は終端状態の不変性のテスト。
func TestNotificationImmutableHistory(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	createTestNotification(t, s, "notif-1", "event-1", "contact-a", 0, now.Add(-time.Hour))
	if ok, err := s.ClaimNotification(t.Context(), "notif-1", now); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}
	if err := s.MarkNotificationSent(t.Context(), "notif-1", now); err != nil {
		t.Fatalf("送信記録に失敗: %v", err)
	}

	// 送信済み通知は付け替えも削除もされない
	if err := s.RescheduleNotification(t.Context(), "notif-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("付け替え呼び出しに失敗: %v", err)
	}
	if err := s.DeleteNotification(t.Context(), "notif-1"); err != nil {
		t.Fatalf("削除呼び出しに失敗: %v", err)
	}

	got, err := s.GetNotification(t.Context(), "notif-1")
	if err != nil {
		t.Fatalf("通知の取得に失敗: %v", err)
	}
	if got.Status != reminder.StatusSent {
		t.Errorf("状態: got %s, want sent", got.Status)
	}
	if !got.ScheduledAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("発火日時は変更されないべき: got %v", got.ScheduledAt)
	}
	if got.SentAt.IsZero() {
		t.Error("送信日時が記録されるべき")
	}
}

// TestCountNotificationsByUserID は通知数集計のテスト。
// 配送中（sending）は外部的にはpendingとして数える。
func TestCountNotificationsByUserID(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	createTestNotification(t, s, "notif-pending", "event-1", "contact-a", 0, now)
	createTestNotification(t, s, "notif-sending", "event-1", "contact-b", 0, now)
	createTestNotification(t, s, "notif-sent", "event-1", "contact-c", 0, now)

	if ok, err := s.ClaimNotification(t.Context(), "notif-sending", now); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}
	if ok, err := s.ClaimNotification(t.Context(), "notif-sent", now); err != nil || !ok {
		t.Fatalf("クレームに失敗: ok=%v, err=%v", ok, err)
	}
	if err := s.MarkNotificationSent(t.Context(), "notif-sent", now); err != nil {
		t.Fatalf("送信記録に失敗: %v", err)
	}

	pending, err := s.CountNotificationsByUserID(t.Context(), "user-1", reminder.StatusPending)
	if err != nil {
		t.Fatalf("集計に失敗: %v", err)
	}
	if pending != 2 {
		t.Errorf("pending数（sending含む）: got %d, want 2", pending)
	}

	sent, err := s.CountNotificationsByUserID(t.Context(), "user-1", reminder.StatusSent)
	if err != nil {
		t.Fatalf("集計に失敗: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent数: got %d, want 1", sent)
	}
}

// TestEngineWithStore はエンジンとSQLite永続化層の結合テスト。
// 2時間前指定のイベントに対して通知が8時に実体化されることを確認する。
func TestEngineWithStore(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	engine := reminder.NewEngine(s)

	ev := createTestEvent(t, s, uuid.New().String(), "user-1",
		time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		reminder.Spec{Kind: reminder.KindRelative, Amount: 2, Unit: reminder.UnitHours})
	createTestContact(t, s, "contact-a", "user-1", "alice")

	if err := engine.OnSubscriptionsChanged(t.Context(), ev.ID, []string{"contact-a"}); err != nil {
		t.Fatalf("購読調整に失敗: %v", err)
	}

	notifications, err := s.ListNotificationsByEventID(t.Context(), ev.ID)
	if err != nil {
		t.Fatalf("通知一覧の取得に失敗: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("通知数: got %d, want 1", len(notifications))
	}
	want := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	if !notifications[0].ScheduledAt.Equal(want) {
		t.Errorf("発火日時: got %v, want %v", notifications[0].ScheduledAt, want)
	}

	// 同じ集合の再適用で状態は変わらない
	if err := engine.OnSubscriptionsChanged(t.Context(), ev.ID, []string{"contact-a"}); err != nil {
		t.Fatalf("再適用に失敗: %v", err)
	}
	notifications, err = s.ListNotificationsByEventID(t.Context(), ev.ID)
	if err != nil {
		t.Fatalf("通知一覧の取得に失敗: %v", err)
	}
	if len(notifications) != 1 {
		t.Errorf("再適用後の通知数: got %d, want 1", len(notifications))
	}
}
