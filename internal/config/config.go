// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定。
type Config struct {
	// Port はHTTPサーバーが待ち受けるポート番号。
	Port string `env:"PORT" envDefault:"8080"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/data/remind.db"`
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// CORSOrigins はCORSで許可するオリジンのリスト。
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// SMTPHost はSMTPサーバーのホスト名。空の場合はメール送信が無効になる。
	SMTPHost string `env:"SMTP_HOST"`
	// SMTPPort はSMTPサーバーのポート番号。
	SMTPPort int `env:"SMTP_PORT" envDefault:"587"`
	// SMTPUser はSMTP認証のユーザー名。
	SMTPUser string `env:"SMTP_USER"`
	// SMTPPassword はSMTP認証のパスワード。
	SMTPPassword string `env:"SMTP_PASSWORD"`
	// SMTPFrom は差出人アドレス。空の場合はSMTPUserを使う。
	SMTPFrom string `env:"SMTP_FROM"`

	// ScanInterval は通知送信ループのスキャン間隔。
	ScanInterval time.Duration `env:"SCAN_INTERVAL" envDefault:"1m"`
	// SendTimeout はメール1通あたりの送信タイムアウト。
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	// ClaimTimeout は送信中のまま放置された通知を回収するまでの時間。
	ClaimTimeout time.Duration `env:"CLAIM_TIMEOUT" envDefault:"10m"`
	// RetryBaseDelay は送信再試行バックオフの基準時間。
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"2m"`
	// MaxAttempts は送信をあきらめるまでの最大試行回数。
	MaxAttempts int64 `env:"MAX_ATTEMPTS" envDefault:"5"`
	// DispatchConcurrency は同時送信数の上限。
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY" envDefault:"4"`
	// DispatchBatchLimit は1回のスキャンで処理する通知数の上限。
	DispatchBatchLimit int `env:"DISPATCH_BATCH_LIMIT" envDefault:"100"`
}

// Load は環境変数からConfigを読み込む。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}
	return cfg, nil
}

// SMTPEnabled はSMTPによるメール送信が設定されているかどうかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}
