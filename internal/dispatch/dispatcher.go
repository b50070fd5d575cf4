package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nao1215/remind/internal/mailer"
	"github.com/nao1215/remind/internal/reminder"
)

// Store はディスパッチャが必要とするストレージ操作。
type Store interface {
	// ReleaseAbandonedClaims はcutoff以前にクレームされたままのsending通知を
	// pendingに戻し、戻した件数を返す。
	ReleaseAbandonedClaims(ctx context.Context, cutoff time.Time) (int64, error)
	// ListDueNotifications は期日と再試行予定時刻を迎えたpending通知を
	// 予定時刻の昇順で最大limit件返す。
	ListDueNotifications(ctx context.Context, now time.Time, limit int64) ([]reminder.Notification, error)
	// ClaimNotification は通知をpendingからsendingへ条件付きで更新する。
	// 更新できた場合のみtrueを返す。
	ClaimNotification(ctx context.Context, id string, claimedAt time.Time) (bool, error)
	// MarkNotificationSent はsendingの通知をsentにする。
	MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error
	// RequeueNotification はsendingの通知を再試行待ちのpendingに戻す。
	RequeueNotification(ctx context.Context, id string, attempts int64, nextAttemptAt time.Time, errMsg string) error
	// MarkNotificationFailed はsendingの通知をfailedにする。
	MarkNotificationFailed(ctx context.Context, id string, attempts int64, errMsg string) error
	// GetEvent はイベントを取得する。
	GetEvent(ctx context.Context, id string) (reminder.Event, error)
	// GetContact は連絡先を取得する。
	GetContact(ctx context.Context, id string) (reminder.Contact, error)
}

// Config はディスパッチャの動作設定。
type Config struct {
	// ScanInterval はストレージをスキャンする間隔。
	ScanInterval time.Duration
	// SendTimeout は1通あたりの送信タイムアウト。
	SendTimeout time.Duration
	// ClaimTimeout はsendingのままの通知を放置とみなすまでの時間。
	ClaimTimeout time.Duration
	// RetryBaseDelay は再試行バックオフの基準時間。
	// n回目の失敗後の待ち時間は RetryBaseDelay * 2^(n-1) になる。
	RetryBaseDelay time.Duration
	// MaxAttempts は送信をfailedにするまでの最大試行回数。
	MaxAttempts int64
	// Concurrency は同時に送信する通知の最大数。
	Concurrency int
	// BatchLimit は1回のスキャンで処理する通知の最大数。
	BatchLimit int
}

// withDefaults は未設定の項目に既定値を補ったConfigを返す。
func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 10 * time.Minute
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	return c
}

// Dispatcher は期日を迎えた通知をスキャンして送信するバックグラウンドワーカー。
type Dispatcher struct {
	store  Store
	mailer mailer.Mailer
	config Config
	cron   *cron.Cron
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// New は新しいDispatcherを生成する。
func New(store Store, m mailer.Mailer, config Config) *Dispatcher {
	return &Dispatcher{
		store:  store,
		mailer: m,
		config: config.withDefaults(),
		now:    time.Now,
	}
}

// Start はスキャンループを開始する。前回のスキャンが終わっていない場合、
// その回のスキャンはスキップされる。
func (d *Dispatcher) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", d.config.ScanInterval), func() {
		if err := d.Scan(ctx); err != nil {
			log.Printf("[Dispatch] スキャンに失敗しました: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("ディスパッチャの起動に失敗: %w", err)
	}
	c.Start()
	d.cron = c
	log.Printf("[Dispatch] 送信ループを開始しました（間隔: %s）", d.config.ScanInterval)
	return nil
}

// Stop はスキャンループを停止し、実行中のスキャンの完了を待つ。
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	log.Printf("[Dispatch] 送信ループを停止しました")
}

// Scan は1回分のスキャンを実行する。放置されたクレームの回収、期日を迎えた
// 通知の取得、クレームと送信までを行う。
func (d *Dispatcher) Scan(ctx context.Context) error {
	now := d.now().UTC()

	released, err := d.store.ReleaseAbandonedClaims(ctx, now.Add(-d.config.ClaimTimeout))
	if err != nil {
		return fmt.Errorf("放置されたクレームの回収に失敗: %w", err)
	}
	if released > 0 {
		log.Printf("[Dispatch] 放置されていた%d件の通知をpendingに戻しました", released)
	}

	due, err := d.store.ListDueNotifications(ctx, now, int64(d.config.BatchLimit))
	if err != nil {
		return fmt.Errorf("期日を迎えた通知の取得に失敗: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.config.Concurrency)
	for _, n := range due {
		claimed, err := d.store.ClaimNotification(ctx, n.ID, now)
		if err != nil {
			log.Printf("[Dispatch] 通知のクレームに失敗しました（ID: %s）: %v", n.ID, err)
			continue
		}
		if !claimed {
			// 別のプロセスが先にクレームしたか、状態が変わった
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n reminder.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, n)
		}(n)
	}
	wg.Wait()
	return nil
}

// deliver はクレーム済みの通知1件を送信し、結果をストレージに記録する。
func (d *Dispatcher) deliver(ctx context.Context, n reminder.Notification) {
	ev, err := d.store.GetEvent(ctx, n.EventID)
	if err != nil {
		d.fail(ctx, n, fmt.Errorf("イベントの取得に失敗: %w", err), errors.Is(err, reminder.ErrNotFound))
		return
	}
	contact, err := d.store.GetContact(ctx, n.ContactID)
	if err != nil {
		d.fail(ctx, n, fmt.Errorf("連絡先の取得に失敗: %w", err), errors.Is(err, reminder.ErrNotFound))
		return
	}

	subject, body, err := mailer.RenderReminder(ev, contact)
	if err != nil {
		d.fail(ctx, n, err, true)
		return
	}

	// タイムアウトは送信にだけ適用する。状態の記録は親コンテキストで行い、
	// 送信の遅延で結果が書き込めなくなるのを防ぐ。
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err = d.mailer.Send(sendCtx, contact.Email, subject, body)
	cancel()
	if err != nil {
		d.fail(ctx, n, err, mailer.IsPermanent(err))
		return
	}

	if err := d.store.MarkNotificationSent(ctx, n.ID, d.now().UTC()); err != nil {
		log.Printf("[Dispatch] 送信済みの記録に失敗しました（ID: %s）: %v", n.ID, err)
		return
	}
	log.Printf("[Dispatch] 通知を送信しました（ID: %s, 宛先: %s）", n.ID, contact.Email)
}

// fail は送信失敗を記録する。恒久的な失敗は即座にfailedにし、一時的な失敗は
// 指数バックオフ付きで再試行するか、上限に達していればfailedにする。
func (d *Dispatcher) fail(ctx context.Context, n reminder.Notification, sendErr error, permanent bool) {
	attempts := n.Attempts + 1

	if permanent {
		if err := d.store.MarkNotificationFailed(ctx, n.ID, attempts, sendErr.Error()); err != nil {
			log.Printf("[Dispatch] 失敗の記録に失敗しました（ID: %s）: %v", n.ID, err)
			return
		}
		log.Printf("[Dispatch] 通知の送信に恒久的に失敗しました（ID: %s）: %v", n.ID, sendErr)
		return
	}

	if attempts >= d.config.MaxAttempts {
		if err := d.store.MarkNotificationFailed(ctx, n.ID, attempts, sendErr.Error()); err != nil {
			log.Printf("[Dispatch] 失敗の記録に失敗しました（ID: %s）: %v", n.ID, err)
			return
		}
		log.Printf("[ALERT] 通知が再試行上限に達しました（ID: %s, 試行回数: %d）: %v", n.ID, attempts, sendErr)
		return
	}

	delay := d.config.RetryBaseDelay * time.Duration(1<<(attempts-1))
	nextAttemptAt := d.now().UTC().Add(delay)
	if err := d.store.RequeueNotification(ctx, n.ID, attempts, nextAttemptAt, sendErr.Error()); err != nil {
		log.Printf("[Dispatch] 再試行の記録に失敗しました（ID: %s）: %v", n.ID, err)
		return
	}
	log.Printf("[Dispatch] 通知の送信に失敗しました。%s後に再試行します（ID: %s, 試行回数: %d）: %v",
		delay, n.ID, attempts, sendErr)
}
