package reminder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memoryStorage はエンジンのテスト用インメモリStorage実装。
type memoryStorage struct {
	mu            sync.Mutex
	events        map[string]Event
	subscriptions map[string]Subscription
	notifications map[string]Notification
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		events:        make(map[string]Event),
		subscriptions: make(map[string]Subscription),
		notifications: make(map[string]Notification),
	}
}

func (m *memoryStorage) GetEvent(_ context.Context, id string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Event{}, fmt.Errorf("イベント %s: %w", id, ErrNotFound)
	}
	return ev, nil
}

func (m *memoryStorage) ListSubscriptionsByEventID(_ context.Context, eventID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]Subscription, 0)
	for _, sub := range m.subscriptions {
		if sub.EventID == eventID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (m *memoryStorage) CreateSubscription(_ context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subscriptions {
		if existing.EventID == sub.EventID && existing.ContactID == sub.ContactID {
			return fmt.Errorf("購読が重複しています")
		}
	}
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *memoryStorage) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return fmt.Errorf("購読 %s: %w", id, ErrNotFound)
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *memoryStorage) ListNotificationsByEventID(_ context.Context, eventID string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notifications := make([]Notification, 0)
	for _, n := range m.notifications {
		if n.EventID == eventID {
			notifications = append(notifications, n)
		}
	}
	return notifications, nil
}

func (m *memoryStorage) CreateNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.EventID == n.EventID && existing.ContactID == n.ContactID &&
			existing.ReminderIndex == n.ReminderIndex {
			return fmt.Errorf("通知の冪等性キーが重複しています")
		}
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *memoryStorage) RescheduleNotification(_ context.Context, id string, scheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Status != StatusPending {
		return nil
	}
	n.ScheduledAt = scheduledAt
	m.notifications[id] = n
	return nil
}

func (m *memoryStorage) DeleteNotification(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok && n.Status == StatusPending {
		delete(m.notifications, id)
	}
	return nil
}

// pendingCount はテスト検証用にpending通知数を数える。
func (m *memoryStorage) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.Status == StatusPending {
			count++
		}
	}
	return count
}

// TestEngineOnEventChanged はイベント変更時の再実体化のテスト。
func TestEngineOnEventChanged(t *testing.T) {
	t.Parallel()

	t.Run("購読者がいる状態でのイベント作成は通知を実体化する", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 1, Unit: UnitDays})
		storage.events[ev.ID] = ev
		storage.subscriptions["sub-a"] = Subscription{ID: "sub-a", EventID: ev.ID, ContactID: "contact-a"}
		storage.subscriptions["sub-b"] = Subscription{ID: "sub-b", EventID: ev.ID, ContactID: "contact-b"}

		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("再実体化に失敗: %v", err)
		}
		if got := storage.pendingCount(); got != 2 {
			t.Errorf("pending通知数: got %d, want 2", got)
		}
	})

	t.Run("2回呼び出しても通知は増えない", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 1, Unit: UnitDays})
		storage.events[ev.ID] = ev
		storage.subscriptions["sub-a"] = Subscription{ID: "sub-a", EventID: ev.ID, ContactID: "contact-a"}

		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("1回目の再実体化に失敗: %v", err)
		}
		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("2回目の再実体化に失敗: %v", err)
		}
		if got := storage.pendingCount(); got != 1 {
			t.Errorf("pending通知数: got %d, want 1", got)
		}
	})

	t.Run("開催日時の変更はpending通知の発火日時に反映される", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 1, Unit: UnitDays})
		storage.events[ev.ID] = ev
		storage.subscriptions["sub-a"] = Subscription{ID: "sub-a", EventID: ev.ID, ContactID: "contact-a"}

		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("再実体化に失敗: %v", err)
		}

		ev.Date = ev.Date.Add(48 * time.Hour)
		storage.events[ev.ID] = ev
		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("日時変更後の再実体化に失敗: %v", err)
		}

		notifications, err := storage.ListNotificationsByEventID(t.Context(), ev.ID)
		if err != nil {
			t.Fatalf("通知一覧の取得に失敗: %v", err)
		}
		if len(notifications) != 1 {
			t.Fatalf("通知数: got %d, want 1", len(notifications))
		}
		want := ev.Date.Add(-24 * time.Hour)
		if !notifications[0].ScheduledAt.Equal(want) {
			t.Errorf("発火日時: got %v, want %v", notifications[0].ScheduledAt, want)
		}
	})
}

// TestEngineOnSubscriptionsChanged は購読者集合の宣言的な置き換えのテスト。
func TestEngineOnSubscriptionsChanged(t *testing.T) {
	t.Parallel()

	t.Run("あるべき集合への収束と通知の追従", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 1, Unit: UnitDays})
		storage.events[ev.ID] = ev
		storage.subscriptions["sub-a"] = Subscription{ID: "sub-a", EventID: ev.ID, ContactID: "contact-a"}
		storage.subscriptions["sub-b"] = Subscription{ID: "sub-b", EventID: ev.ID, ContactID: "contact-b"}
		if err := engine.OnEventChanged(t.Context(), ev); err != nil {
			t.Fatalf("初期実体化に失敗: %v", err)
		}

		// {a,b} → {b,c}
		if err := engine.OnSubscriptionsChanged(t.Context(), ev.ID, []string{"contact-b", "contact-c"}); err != nil {
			t.Fatalf("購読調整に失敗: %v", err)
		}

		subs, err := storage.ListSubscriptionsByEventID(t.Context(), ev.ID)
		if err != nil {
			t.Fatalf("購読一覧の取得に失敗: %v", err)
		}
		if len(subs) != 2 {
			t.Errorf("購読数: got %d, want 2", len(subs))
		}
		contactIDs := make(map[string]struct{})
		for _, sub := range subs {
			contactIDs[sub.ContactID] = struct{}{}
		}
		if _, ok := contactIDs["contact-a"]; ok {
			t.Error("contact-aの購読は削除されるべき")
		}
		if _, ok := contactIDs["contact-c"]; !ok {
			t.Error("contact-cの購読が作成されるべき")
		}

		// 通知も購読に追従する
		if got := storage.pendingCount(); got != 2 {
			t.Errorf("pending通知数: got %d, want 2", got)
		}
	})

	t.Run("同じ集合を繰り返し適用しても状態は変わらない", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 2, Unit: UnitHours})
		storage.events[ev.ID] = ev

		desired := []string{"contact-a", "contact-b"}
		for range 3 {
			if err := engine.OnSubscriptionsChanged(t.Context(), ev.ID, desired); err != nil {
				t.Fatalf("購読調整に失敗: %v", err)
			}
		}

		subs, err := storage.ListSubscriptionsByEventID(t.Context(), ev.ID)
		if err != nil {
			t.Fatalf("購読一覧の取得に失敗: %v", err)
		}
		if len(subs) != 2 {
			t.Errorf("購読数: got %d, want 2", len(subs))
		}
		if got := storage.pendingCount(); got != 2 {
			t.Errorf("pending通知数: got %d, want 2", got)
		}
	})

	t.Run("送信済みの通知は購読解除後も保持される", func(t *testing.T) {
		t.Parallel()
		storage := newMemoryStorage()
		engine := NewEngine(storage)

		ev := testEvent(Spec{Kind: KindRelative, Amount: 1, Unit: UnitDays})
		storage.events[ev.ID] = ev
		storage.subscriptions["sub-a"] = Subscription{ID: "sub-a", EventID: ev.ID, ContactID: "contact-a"}
		storage.notifications["notif-sent"] = Notification{
			ID: "notif-sent", EventID: ev.ID, ContactID: "contact-a",
			ReminderIndex: 0, Status: StatusSent,
			ScheduledAt: ev.Date.Add(-24 * time.Hour),
		}

		if err := engine.OnSubscriptionsChanged(t.Context(), ev.ID, nil); err != nil {
			t.Fatalf("購読調整に失敗: %v", err)
		}

		if _, ok := storage.notifications["notif-sent"]; !ok {
			t.Error("送信済み通知は履歴として保持されるべき")
		}
	})

	t.Run("存在しないイベントはエラー", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(newMemoryStorage())
		if err := engine.OnSubscriptionsChanged(t.Context(), "event-missing", []string{"contact-a"}); err == nil {
			t.Error("エラーが返るべき")
		}
	})
}
