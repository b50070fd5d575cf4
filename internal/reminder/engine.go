package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Storage はエンジンが必要とする永続化操作。実装はinternal/storeが提供する。
// 取得系は対象が存在しない場合にErrNotFoundをラップしたエラーを返す。
type Storage interface {
	// GetEvent はイベントを1件取得する。
	GetEvent(ctx context.Context, id string) (Event, error)
	// ListSubscriptionsByEventID はイベントの購読一覧を取得する。
	ListSubscriptionsByEventID(ctx context.Context, eventID string) ([]Subscription, error)
	// CreateSubscription は購読を作成する。
	CreateSubscription(ctx context.Context, sub Subscription) error
	// DeleteSubscription は購読を削除する。
	DeleteSubscription(ctx context.Context, id string) error
	// ListNotificationsByEventID はイベントの通知一覧を取得する。
	ListNotificationsByEventID(ctx context.Context, eventID string) ([]Notification, error)
	// CreateNotification はpending通知を作成する。
	CreateNotification(ctx context.Context, n Notification) error
	// RescheduleNotification はpending通知の発火日時を更新する。
	RescheduleNotification(ctx context.Context, id string, scheduledAt time.Time) error
	// DeleteNotification は通知を削除する。
	DeleteNotification(ctx context.Context, id string) error
}

// Engine は購読調整と通知実体化を永続化層へ適用するコア。
// すべての操作は冪等・収束的に設計されており、同時実行や重複実行でも
// グローバルロックなしで同じ最終状態に落ち着く。
type Engine struct {
	// storage は永続化層。
	storage Storage
}

// NewEngine は新しいEngineを生成する。
func NewEngine(storage Storage) *Engine {
	return &Engine{storage: storage}
}

// OnEventChanged はイベントの作成・更新時に呼び出され、
// 現在の購読者とリマインダー指定に合わせて通知集合を再実体化する。
func (e *Engine) OnEventChanged(ctx context.Context, ev Event) error {
	return e.rematerialize(ctx, ev)
}

// OnSubscriptionsChanged はあるべき購読者集合を受け取り、現在の購読との
// 差分を計算して適用した上で、通知集合を再実体化する。
// 差分の各要素は独立に適用し、1件の失敗で残りを止めない。
// 失敗分は処理全体が冪等なため、次回の呼び出しで回収される。
func (e *Engine) OnSubscriptionsChanged(ctx context.Context, eventID string, desiredContactIDs []string) error {
	current, err := e.storage.ListSubscriptionsByEventID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}

	delta := Reconcile(desiredContactIDs, current)

	var errs []error
	for _, contactID := range delta.ToAdd {
		sub := Subscription{
			ID:        uuid.New().String(),
			EventID:   eventID,
			ContactID: contactID,
		}
		if err := e.storage.CreateSubscription(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("連絡先 %s の購読作成に失敗: %w", contactID, err))
		}
	}
	for _, subID := range delta.ToRemove {
		if err := e.storage.DeleteSubscription(ctx, subID); err != nil {
			errs = append(errs, fmt.Errorf("購読 %s の削除に失敗: %w", subID, err))
		}
	}

	if err := e.Rematerialize(ctx, eventID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Rematerialize は指定イベントの通知集合を現在の状態に合わせて収束させる。
// 購読の直接追加・削除の後に呼び出される。
func (e *Engine) Rematerialize(ctx context.Context, eventID string) error {
	ev, err := e.storage.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("イベント %s の取得に失敗: %w", eventID, err)
	}
	return e.rematerialize(ctx, ev)
}

// rematerialize は購読と既存通知のスナップショットからPlanを計算して適用する。
func (e *Engine) rematerialize(ctx context.Context, ev Event) error {
	subs, err := e.storage.ListSubscriptionsByEventID(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}
	existing, err := e.storage.ListNotificationsByEventID(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	contactIDs := make([]string, 0, len(subs))
	for _, sub := range subs {
		contactIDs = append(contactIDs, sub.ContactID)
	}

	plan, err := Materialize(ev, contactIDs, existing)
	if err != nil {
		return err
	}
	return e.applyPlan(ctx, plan)
}

// applyPlan はPlanの各操作を独立に適用するベストエフォートの一括適用。
// 1件の失敗で他の操作を止めず、失敗をまとめて返す。
func (e *Engine) applyPlan(ctx context.Context, plan Plan) error {
	var errs []error
	for _, n := range plan.Creates {
		if err := e.storage.CreateNotification(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("通知 %s の作成に失敗: %w", n.ID, err))
		}
	}
	for _, r := range plan.Reschedules {
		if err := e.storage.RescheduleNotification(ctx, r.NotificationID, r.ScheduledAt); err != nil {
			errs = append(errs, fmt.Errorf("通知 %s の発火日時更新に失敗: %w", r.NotificationID, err))
		}
	}
	for _, id := range plan.Removals {
		if err := e.storage.DeleteNotification(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("通知 %s の削除に失敗: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
