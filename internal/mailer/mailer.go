package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Mailer は1通のメール送信を行う外部コラボレータ。
type Mailer interface {
	// Send は宛先アドレスへ件名と本文（HTML）のメールを1通送信する。
	// 再試行しても成功しないエラーはPermanentErrorとして返す。
	Send(ctx context.Context, to, subject, body string) error
}

// PermanentError は再試行しても成功しない送信エラーを表す。
// ディスパッチャはこのエラーを受けると通知を即座にfailedにする。
type PermanentError struct {
	// Err は元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap は元のエラーを返す。
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent は恒久的な送信エラーかどうかを判定する。
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// SMTP はgo-mailによるSMTP送信のMailer実装。
type SMTP struct {
	// client はSMTPクライアント。接続は送信ごとに張り直す。
	client *mail.Client
	// from は差出人アドレス。
	from string
}

// NewSMTP は新しいSMTP Mailerを生成する。
func NewSMTP(host string, port int, username, password, from string) (*SMTP, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("SMTPクライアントの生成に失敗: %w", err)
	}
	return &SMTP{client: client, from: from}, nil
}

// Send は1通のHTMLメールを送信する。
// 宛先アドレスの不正とSMTPサーバーによる恒久的な拒否はPermanentErrorとして
// 返し、接続障害や一時的な拒否（4xx）はそのまま返して再試行に委ねる。
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return &PermanentError{Err: fmt.Errorf("差出人アドレスが不正: %w", err)}
	}
	if err := msg.To(to); err != nil {
		return &PermanentError{Err: fmt.Errorf("宛先アドレスが不正: %w", err)}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		var sendErr *mail.SendError
		if errors.As(err, &sendErr) && !sendErr.IsTemp() {
			return &PermanentError{Err: fmt.Errorf("SMTPサーバーが送信を拒否: %w", err)}
		}
		return fmt.Errorf("メール送信に失敗: %w", err)
	}
	return nil
}

// Disabled はSMTP未設定時に使うMailer実装。送信は常に恒久的エラーになる。
type Disabled struct{}

// Send は常にPermanentErrorを返す。
func (Disabled) Send(_ context.Context, _, _, _ string) error {
	return &PermanentError{Err: errors.New("SMTPが設定されていないため送信できません")}
}
