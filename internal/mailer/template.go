package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/nao1215/remind/internal/reminder"
)

// reminderTemplate はリマインダーメールのHTML本文テンプレート。
var reminderTemplate = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; color: #1f2937; background: #f3f4f6; padding: 20px;">
  <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden;">
    <div style="background: #6366f1; color: #ffffff; padding: 24px; text-align: center;">
      <h1 style="margin: 0; font-size: 20px;">{{if .Test}}【テスト】{{end}}イベントのリマインダー</h1>
    </div>
    <div style="padding: 24px;">
      <p>{{.ContactName}} 様</p>
      <p>次のイベントが近づいています。</p>
      <div style="border: 1px solid #e5e7eb; border-radius: 8px; padding: 16px; margin: 16px 0;">
        <p style="font-size: 18px; font-weight: bold; margin: 0 0 12px 0;">{{.Title}}</p>
        <p style="margin: 4px 0;">日時: {{.Date}}</p>
        {{if .Location}}<p style="margin: 4px 0;">場所: {{.Location}}</p>{{end}}
        {{if .Description}}<p style="margin: 12px 0 0 0; color: #4b5563;">{{.Description}}</p>{{end}}
      </div>
      {{if .Test}}<p style="color: #92400e; font-size: 13px;">これは手動で送信されたテストメールです。実際のリマインダーはイベントの設定に従って自動送信されます。</p>{{end}}
    </div>
    <div style="background: #f9fafb; padding: 16px; text-align: center; color: #6b7280; font-size: 12px;">
      <p style="margin: 0;">このメールはremindによって自動送信されています。</p>
    </div>
  </div>
</body>
</html>
`))

// smtpTestTemplate はSMTP設定確認メールのHTML本文テンプレート。
var smtpTestTemplate = template.Must(template.New("smtptest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; color: #1f2937; background: #f3f4f6; padding: 20px;">
  <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
    <h1 style="font-size: 18px;">メール送信設定は正常です</h1>
    <p>このメールが届いていれば、SMTPの設定は正しく機能しています。</p>
    <p style="color: #6b7280; font-size: 13px;">宛先: {{.Email}} / 送信日時: {{.Now}}</p>
  </div>
</body>
</html>
`))

// reminderTemplateData はリマインダーメールのテンプレートに渡すデータ。
type reminderTemplateData struct {
	ContactName string
	Title       string
	Date        string
	Location    string
	Description string
	Test        bool
}

// formatEventDate はイベント日時をメール表示用の形式に整える。
func formatEventDate(t time.Time) string {
	return t.UTC().Format("2006年01月02日 15:04 (UTC)")
}

// RenderReminder はイベントと連絡先からリマインダーメールの件名と本文を生成する。
func RenderReminder(ev reminder.Event, contact reminder.Contact) (subject, body string, err error) {
	return renderReminder(ev, contact, false)
}

// RenderTestReminder は手動送信用のテストリマインダーメールを生成する。
func RenderTestReminder(ev reminder.Event, contact reminder.Contact) (subject, body string, err error) {
	return renderReminder(ev, contact, true)
}

// renderReminder はリマインダーメールの共通レンダリング処理。
func renderReminder(ev reminder.Event, contact reminder.Contact, test bool) (string, string, error) {
	subject := fmt.Sprintf("リマインダー: %s", ev.Title)
	if test {
		subject = "【テスト】" + subject
	}

	var buf bytes.Buffer
	err := reminderTemplate.Execute(&buf, reminderTemplateData{
		ContactName: contact.Name,
		Title:       ev.Title,
		Date:        formatEventDate(ev.Date),
		Location:    ev.Location,
		Description: ev.Description,
		Test:        test,
	})
	if err != nil {
		return "", "", fmt.Errorf("リマインダーメールの生成に失敗: %w", err)
	}
	return subject, buf.String(), nil
}

// RenderSMTPTest はSMTP設定確認メールの件名と本文を生成する。
func RenderSMTPTest(email string, now time.Time) (subject, body string, err error) {
	var buf bytes.Buffer
	err = smtpTestTemplate.Execute(&buf, map[string]string{
		"Email": email,
		"Now":   now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", "", fmt.Errorf("テストメールの生成に失敗: %w", err)
	}
	return "remind メール送信テスト", buf.String(), nil
}
