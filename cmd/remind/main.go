// リマインダーサービスのエントリポイント。
// HTTP APIサーバーと通知送信ループを1プロセスで起動する。
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/remind/internal/config"
	"github.com/nao1215/remind/internal/dispatch"
	"github.com/nao1215/remind/internal/mailer"
	"github.com/nao1215/remind/internal/server"
	"github.com/nao1215/remind/internal/store"
)

func main() {
	// .envはローカル開発用。存在しなくてもエラーにしない。
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("データベースの初期化に失敗: %v", err)
	}
	defer func() { _ = st.Close() }()

	var m mailer.Mailer
	if cfg.SMTPEnabled() {
		smtp, err := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
		if err != nil {
			log.Fatalf("SMTPクライアントの初期化に失敗: %v", err)
		}
		m = smtp
	} else {
		log.Printf("[WARN] SMTPが未設定のため、メール送信は無効です")
		m = mailer.Disabled{}
	}

	dispatcher := dispatch.New(st, m, dispatch.Config{
		ScanInterval:   cfg.ScanInterval,
		SendTimeout:    cfg.SendTimeout,
		ClaimTimeout:   cfg.ClaimTimeout,
		RetryBaseDelay: cfg.RetryBaseDelay,
		MaxAttempts:    cfg.MaxAttempts,
		Concurrency:    cfg.DispatchConcurrency,
		BatchLimit:     cfg.DispatchBatchLimit,
	})
	if err := dispatcher.Start(context.Background()); err != nil {
		log.Fatalf("送信ループの起動に失敗: %v", err)
	}
	defer dispatcher.Stop()

	srv := server.NewServer(cfg, st, m)
	log.Printf("リマインダーサービスを起動します: :%s", cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("リマインダーサービスの起動に失敗: %v", err)
	}
}
