package reminder

import "sort"

// Delta は購読者の調整で適用すべき追加・削除の差分。
type Delta struct {
	// ToAdd は新たに購読を作成すべき連絡先IDの一覧（昇順）。
	ToAdd []string
	// ToRemove は削除すべき購読IDの一覧（昇順）。
	ToRemove []string
}

// Empty は差分が空かどうかを返す。
func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Reconcile はあるべき購読者集合と現在の購読スナップショットから
// 追加・削除の差分を純粋な集合演算として計算する。
// 同じ入力に対して常に同じソート済みの差分を返し、差分を適用した後に
// 再実行すると空の差分になる（冪等）。差分の各要素は独立に適用できる。
func Reconcile(desiredContactIDs []string, current []Subscription) Delta {
	desired := make(map[string]struct{}, len(desiredContactIDs))
	for _, id := range desiredContactIDs {
		desired[id] = struct{}{}
	}

	var delta Delta
	currentContactIDs := make(map[string]struct{}, len(current))
	for _, sub := range current {
		currentContactIDs[sub.ContactID] = struct{}{}
		if _, ok := desired[sub.ContactID]; !ok {
			delta.ToRemove = append(delta.ToRemove, sub.ID)
		}
	}
	for contactID := range desired {
		if _, ok := currentContactIDs[contactID]; !ok {
			delta.ToAdd = append(delta.ToAdd, contactID)
		}
	}

	sort.Strings(delta.ToAdd)
	sort.Strings(delta.ToRemove)
	return delta
}
