package config

import (
	"testing"
	"time"
)

// TestLoad は設定読み込みのテスト。
// 環境変数を書き換えるためt.Parallelは使わない。
func TestLoad(t *testing.T) {
	t.Run("未設定の場合は既定値が入る", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("設定の読み込みに失敗: %v", err)
		}

		if cfg.Port != "8080" {
			t.Errorf("Port: got %s, want 8080", cfg.Port)
		}
		if cfg.ScanInterval != time.Minute {
			t.Errorf("ScanInterval: got %v, want 1m", cfg.ScanInterval)
		}
		if cfg.MaxAttempts != 5 {
			t.Errorf("MaxAttempts: got %d, want 5", cfg.MaxAttempts)
		}
		if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
			t.Errorf("CORSOrigins: got %v, want [*]", cfg.CORSOrigins)
		}
		if cfg.SMTPEnabled() {
			t.Error("SMTP_HOST未設定ならメール送信は無効のはず")
		}
	})

	t.Run("環境変数で上書きできる", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("SCAN_INTERVAL", "30s")
		t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
		t.Setenv("SMTP_HOST", "smtp.example.com")
		t.Setenv("SMTP_USER", "sender@example.com")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("設定の読み込みに失敗: %v", err)
		}

		if cfg.Port != "9090" {
			t.Errorf("Port: got %s, want 9090", cfg.Port)
		}
		if cfg.ScanInterval != 30*time.Second {
			t.Errorf("ScanInterval: got %v, want 30s", cfg.ScanInterval)
		}
		if len(cfg.CORSOrigins) != 2 {
			t.Errorf("CORSOrigins: got %v, want 2件", cfg.CORSOrigins)
		}
		if !cfg.SMTPEnabled() {
			t.Error("SMTP_HOST設定済みならメール送信は有効のはず")
		}
		// 差出人未設定ならSMTPユーザーを使う
		if cfg.SMTPFrom != "sender@example.com" {
			t.Errorf("SMTPFrom: got %s, want sender@example.com", cfg.SMTPFrom)
		}
	})

	t.Run("不正なDurationはエラー", func(t *testing.T) {
		t.Setenv("SCAN_INTERVAL", "ときどき")
		if _, err := Load(); err == nil {
			t.Error("エラーが返るべき")
		}
	})
}
