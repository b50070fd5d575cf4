package reminder

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSpec は不正なリマインダー指定を表すエラー。
// イベントの作成・更新時に検証され、スケジューラには決して到達しない。
var ErrInvalidSpec = errors.New("リマインダー指定が不正")

// Kind はリマインダー指定の種類を表す。
type Kind string

const (
	// KindRelative はイベント日時からの相対オフセット指定を表す。
	KindRelative Kind = "relative"
	// KindAbsolute はイベント日時と無関係な絶対日時指定を表す。
	KindAbsolute Kind = "absolute"
)

// Unit は相対オフセットの時間単位を表す。
type Unit string

const (
	// UnitMinutes は分単位のオフセットを表す。
	UnitMinutes Unit = "minutes"
	// UnitHours は時間単位のオフセットを表す。
	UnitHours Unit = "hours"
	// UnitDays は日単位のオフセットを表す。
	UnitDays Unit = "days"
	// UnitWeeks は週単位のオフセットを表す。
	UnitWeeks Unit = "weeks"
)

// unitDurations は時間単位ごとの基準Duration。
var unitDurations = map[Unit]time.Duration{
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    24 * time.Hour,
	UnitWeeks:   7 * 24 * time.Hour,
}

// Spec は1件のリマインダー指定。相対オフセット（イベントのamount×unit前）と
// 絶対日時の2種類があり、Kindによって使用するフィールドが決まるタグ付きユニオン。
// relativeではAtを、absoluteではAmount/Unitを無視する。
type Spec struct {
	// Kind は指定の種類（relative / absolute）。
	Kind Kind `json:"kind"`
	// Amount は相対指定のオフセット量。正の整数でなければならない。
	Amount int64 `json:"amount,omitempty"`
	// Unit は相対指定の時間単位。
	Unit Unit `json:"unit,omitempty"`
	// At は絶対指定の発火日時。
	At time.Time `json:"at,omitzero"`
}

// Validate はリマインダー指定の妥当性を検証する。
// 不正な場合はErrInvalidSpecをラップしたエラーを返す。
func (s Spec) Validate() error {
	switch s.Kind {
	case KindRelative:
		if s.Amount <= 0 {
			return fmt.Errorf("%w: 相対指定のamountは正の整数が必要 (amount=%d)", ErrInvalidSpec, s.Amount)
		}
		if _, ok := unitDurations[s.Unit]; !ok {
			return fmt.Errorf("%w: 未対応の時間単位 %q", ErrInvalidSpec, s.Unit)
		}
	case KindAbsolute:
		if s.At.IsZero() {
			return fmt.Errorf("%w: 絶対指定には発火日時が必要", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: 未知の種類 %q", ErrInvalidSpec, s.Kind)
	}
	return nil
}

// ValidateSpecs はリマインダー指定の一覧をまとめて検証する。
func ValidateSpecs(specs []Spec) error {
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("リマインダー指定[%d]: %w", i, err)
		}
	}
	return nil
}

// FireTime は解決済みの発火日時。Indexは対応するリマインダー指定の位置。
type FireTime struct {
	// Index はリマインダー指定一覧の中でのインデックス。
	Index int
	// At は発火日時（UTC）。
	At time.Time
}

// Resolve はイベント日時とリマインダー指定の一覧から具体的な発火日時を計算する。
// 副作用のない純粋関数で、何度呼び出しても同じ結果を返す。
// 同じ発火日時に解決される指定もマージせず、指定ごとに1件のFireTimeを返す
// （通知の識別にインデックスが含まれるため、指定は独立に扱う）。
// 過去の日時に解決された指定も破棄せずそのまま返し、即時発火として扱われる。
func Resolve(eventDate time.Time, specs []Spec) ([]FireTime, error) {
	fireTimes := make([]FireTime, 0, len(specs))
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("リマインダー指定[%d]: %w", i, err)
		}

		var at time.Time
		switch spec.Kind {
		case KindRelative:
			at = eventDate.Add(-time.Duration(spec.Amount) * unitDurations[spec.Unit])
		case KindAbsolute:
			at = spec.At
		}
		fireTimes = append(fireTimes, FireTime{Index: i, At: at.UTC()})
	}
	return fireTimes, nil
}
