package reminder

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Plan は通知レコードをあるべき状態へ収束させるための操作一覧。
// 各操作は独立に適用でき、一部が失敗しても残りの適用を妨げない。
type Plan struct {
	// Creates は新規に作成すべきpending通知。
	Creates []Notification
	// Reschedules は発火日時を更新すべき既存pending通知。
	Reschedules []Reschedule
	// Removals は削除すべきpending通知のID。
	Removals []string
}

// Reschedule は既存通知の発火日時の更新。同一性を保ったまま
// scheduled_atだけを差し替える（削除＋再作成にはしない）。
type Reschedule struct {
	// NotificationID は更新対象の通知ID。
	NotificationID string
	// ScheduledAt は新しい発火日時（UTC）。
	ScheduledAt time.Time
}

// Empty は適用すべき操作がないかどうかを返す。
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Reschedules) == 0 && len(p.Removals) == 0
}

// notificationKey は通知の冪等性キーのうちイベント内で変化する部分。
// イベントIDはMaterializeの呼び出し単位で固定される。
type notificationKey struct {
	contactID     string
	reminderIndex int
}

// Materialize はイベントと購読者集合から存在すべきpending通知の集合を計算し、
// 永続化済みの通知との差分を操作一覧として返す。
//
// あるべき集合は購読者×解決済みリマインダーインデックスの直積で、
// (event_id, contact_id, reminder_index) を冪等性キーとして差分を取る。
//
//   - キーが存在しない場合のみ新規にpending通知を作成する
//   - sent/failedの通知には一切触れない。購読し直されても同じキーの
//     通知を再作成せず、送信済みの購読者へ二重に通知しない
//   - 配送中（sending）の通知も配送の完了を待つため触れない
//   - pendingで発火日時がずれている場合はその場で更新する
//     （イベント日時の変更に追従する）
//   - あるべき集合に含まれないpending通知のみ削除する
//
// 同じ入力で再実行すると空のPlanになり、クラッシュ後の再適用でも
// 同じ最終状態に収束する。
func Materialize(ev Event, subscriberContactIDs []string, existing []Notification) (Plan, error) {
	fireTimes, err := Resolve(ev.Date, ev.Specs)
	if err != nil {
		return Plan{}, err
	}

	existingByKey := make(map[notificationKey]Notification, len(existing))
	for _, n := range existing {
		if n.EventID != ev.ID {
			continue
		}
		existingByKey[notificationKey{n.ContactID, n.ReminderIndex}] = n
	}

	// 購読者の重複は1件として扱う
	desired := make(map[notificationKey]time.Time)
	seen := make(map[string]struct{}, len(subscriberContactIDs))
	for _, contactID := range subscriberContactIDs {
		if _, ok := seen[contactID]; ok {
			continue
		}
		seen[contactID] = struct{}{}
		for _, ft := range fireTimes {
			desired[notificationKey{contactID, ft.Index}] = ft.At
		}
	}

	var plan Plan
	for key, at := range desired {
		n, ok := existingByKey[key]
		if !ok {
			plan.Creates = append(plan.Creates, Notification{
				ID:            uuid.New().String(),
				EventID:       ev.ID,
				ContactID:     key.contactID,
				UserID:        ev.UserID,
				ReminderIndex: key.reminderIndex,
				ScheduledAt:   at,
				Status:        StatusPending,
			})
			continue
		}
		if n.Status == StatusPending && !n.ScheduledAt.Equal(at) {
			plan.Reschedules = append(plan.Reschedules, Reschedule{
				NotificationID: n.ID,
				ScheduledAt:    at,
			})
		}
	}

	for key, n := range existingByKey {
		if _, ok := desired[key]; ok {
			continue
		}
		if n.Status == StatusPending {
			plan.Removals = append(plan.Removals, n.ID)
		}
	}

	// map走査順に依存しないよう決定的な順序に揃える
	sort.Slice(plan.Creates, func(i, j int) bool {
		if plan.Creates[i].ContactID != plan.Creates[j].ContactID {
			return plan.Creates[i].ContactID < plan.Creates[j].ContactID
		}
		return plan.Creates[i].ReminderIndex < plan.Creates[j].ReminderIndex
	})
	sort.Slice(plan.Reschedules, func(i, j int) bool {
		return plan.Reschedules[i].NotificationID < plan.Reschedules[j].NotificationID
	})
	sort.Strings(plan.Removals)

	return plan, nil
}
