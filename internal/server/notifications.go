package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/remind/internal/mailer"
	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/pkg/middleware"
)

// notificationResponse は通知のJSONレスポンス構造。
// 一覧表示用にイベントと連絡先の情報を添える。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// EventID は対象イベントのID。
	EventID string `json:"event_id"`
	// EventTitle は対象イベントのタイトル。
	EventTitle string `json:"event_title"`
	// ContactID は宛先連絡先のID。
	ContactID string `json:"contact_id"`
	// ContactName は宛先連絡先の表示名。
	ContactName string `json:"contact_name"`
	// ContactEmail は宛先連絡先のメールアドレス。
	ContactEmail string `json:"contact_email"`
	// ReminderIndex は対応するリマインダー指定のインデックス。
	ReminderIndex int `json:"reminder_index"`
	// ScheduledAt は発火予定日時。
	ScheduledAt string `json:"scheduled_at"`
	// SentAt は送信完了日時。未送信の場合は空文字。
	SentAt string `json:"sent_at,omitempty"`
	// Status は通知の状態。
	Status string `json:"status"`
	// Attempts は配送を試行した回数。
	Attempts int64 `json:"attempts"`
	// ErrorMessage は直近の失敗理由。
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse は通知をイベント・連絡先情報つきのレスポンスに変換する。
// 参照先が削除済みの場合はプレースホルダーを埋める。
func (s *Server) toNotificationResponse(c *gin.Context, n reminder.Notification) notificationResponse {
	resp := notificationResponse{
		ID:            n.ID,
		EventID:       n.EventID,
		EventTitle:    "不明なイベント",
		ContactID:     n.ContactID,
		ContactName:   "不明な連絡先",
		ReminderIndex: n.ReminderIndex,
		ScheduledAt:   n.ScheduledAt.UTC().Format(timeFormat),
		Status:        string(externalStatus(n.Status)),
		Attempts:      n.Attempts,
		ErrorMessage:  n.ErrorMessage,
		CreatedAt:     n.CreatedAt.UTC().Format(timeFormat),
	}
	if !n.SentAt.IsZero() {
		resp.SentAt = n.SentAt.UTC().Format(timeFormat)
	}
	if ev, err := s.store.GetEvent(c.Request.Context(), n.EventID); err == nil {
		resp.EventTitle = ev.Title
	}
	if ct, err := s.store.GetContact(c.Request.Context(), n.ContactID); err == nil {
		resp.ContactName = ct.Name
		resp.ContactEmail = ct.Email
	}
	return resp
}

// externalStatus は内部状態を外部向けの状態に変換する。
// sendingは配送の同時実行制御のための内部状態であり、外部にはpendingとして見せる。
func externalStatus(status reminder.Status) reminder.Status {
	if status == reminder.StatusSending {
		return reminder.StatusPending
	}
	return status
}

// handleListNotifications はユーザーの通知一覧取得を処理するハンドラを返す。
// status・limitクエリパラメータで絞り込める。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		status := reminder.Status(c.Query("status"))
		switch status {
		case "", reminder.StatusPending, reminder.StatusSent, reminder.StatusFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "statusの値が不正です"})
			return
		}

		limit := int64(50)
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitの値が不正です"})
				return
			}
			limit = parsed
		}

		notifications, err := s.store.ListNotificationsByUserID(c.Request.Context(), userID, status, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		responses := make([]notificationResponse, 0, len(notifications))
		for _, n := range notifications {
			responses = append(responses, s.toNotificationResponse(c, n))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleListEventNotifications はイベントの通知一覧取得を処理するハンドラを返す。
func (s *Server) handleListEventNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		notifications, err := s.store.ListNotificationsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		responses := make([]notificationResponse, 0, len(notifications))
		for _, n := range notifications {
			responses = append(responses, s.toNotificationResponse(c, n))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleSendTest はpending通知の手動即時送信を処理するハンドラを返す。
// 送信ループと同じクレーム経路を通るため、ループとの二重送信は起きない。
func (s *Server) handleSendTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := s.store.GetNotification(c.Request.Context(), c.Param("id"))
		if errors.Is(err, reminder.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			log.Printf("通知取得エラー: %v", err)
			return
		}
		if n.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知へのアクセス権がありません"})
			return
		}
		if n.Status != reminder.StatusPending {
			c.JSON(http.StatusConflict, gin.H{"error": "pending状態の通知のみ手動送信できます"})
			return
		}

		now := s.now().UTC()
		claimed, err := s.store.ClaimNotification(c.Request.Context(), n.ID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知のクレームに失敗しました"})
			log.Printf("通知クレームエラー: %v", err)
			return
		}
		if !claimed {
			c.JSON(http.StatusConflict, gin.H{"error": "通知は配送中です"})
			return
		}

		ev, err := s.store.GetEvent(c.Request.Context(), n.EventID)
		if err != nil {
			s.releaseTestClaim(c, n)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}
		ct, err := s.store.GetContact(c.Request.Context(), n.ContactID)
		if err != nil {
			s.releaseTestClaim(c, n)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先の取得に失敗しました"})
			log.Printf("連絡先取得エラー: %v", err)
			return
		}

		subject, body, err := mailer.RenderTestReminder(ev, ct)
		if err != nil {
			s.releaseTestClaim(c, n)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メールの生成に失敗しました"})
			log.Printf("メール生成エラー: %v", err)
			return
		}

		if err := s.mailer.Send(c.Request.Context(), ct.Email, subject, body); err != nil {
			s.releaseTestClaim(c, n)
			c.JSON(http.StatusBadGateway, gin.H{"error": "メールの送信に失敗しました"})
			log.Printf("テスト送信エラー（通知: %s）: %v", n.ID, err)
			return
		}

		if err := s.store.MarkNotificationSent(c.Request.Context(), n.ID, s.now().UTC()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "送信済みの記録に失敗しました"})
			log.Printf("送信記録エラー（通知: %s）: %v", n.ID, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "テストリマインダーを送信しました"})
	}
}

// releaseTestClaim は手動送信に失敗した通知のクレームを解放してpendingへ戻す。
// 試行回数は増やさず、次回の送信ループで通常どおり配送される。
func (s *Server) releaseTestClaim(c *gin.Context, n reminder.Notification) {
	if err := s.store.RequeueNotification(c.Request.Context(), n.ID, n.Attempts, s.now().UTC(), n.ErrorMessage); err != nil {
		log.Printf("クレーム解放エラー（通知: %s）: %v", n.ID, err)
	}
}

// handleTestEmail はSMTP設定確認メールの送信を処理するハンドラを返す。
// 認証済みユーザー自身のメールアドレスへ送信する。
func (s *Server) handleTestEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := middleware.GetEmail(c)
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "トークンにメールアドレスが含まれていません"})
			return
		}

		subject, body, err := mailer.RenderSMTPTest(email, s.now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メールの生成に失敗しました"})
			log.Printf("メール生成エラー: %v", err)
			return
		}

		if err := s.mailer.Send(c.Request.Context(), email, subject, body); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "メールの送信に失敗しました"})
			log.Printf("テストメール送信エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "テストメールを送信しました", "to": email})
	}
}
