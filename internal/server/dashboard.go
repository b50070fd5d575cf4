package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/pkg/middleware"
)

// dashboardStatsResponse はダッシュボード統計のJSONレスポンス構造。
type dashboardStatsResponse struct {
	// TotalEvents はイベント総数。
	TotalEvents int64 `json:"total_events"`
	// UpcomingEvents は今後開催されるイベント数。
	UpcomingEvents int64 `json:"upcoming_events"`
	// TotalContacts は連絡先総数。
	TotalContacts int64 `json:"total_contacts"`
	// PendingNotifications は送信待ちの通知数。
	PendingNotifications int64 `json:"pending_notifications"`
	// SentNotifications は送信済みの通知数。
	SentNotifications int64 `json:"sent_notifications"`
}

// handleDashboardStats はダッシュボード統計取得を処理するハンドラを返す。
func (s *Server) handleDashboardStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		now := s.now().UTC()

		totalEvents, err := s.store.CountEventsByUserID(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			log.Printf("イベント数取得エラー: %v", err)
			return
		}
		upcomingEvents, err := s.store.CountUpcomingEventsByUserID(ctx, userID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			log.Printf("今後のイベント数取得エラー: %v", err)
			return
		}
		totalContacts, err := s.store.CountContactsByUserID(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			log.Printf("連絡先数取得エラー: %v", err)
			return
		}
		pending, err := s.store.CountNotificationsByUserID(ctx, userID, reminder.StatusPending)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			log.Printf("送信待ち通知数取得エラー: %v", err)
			return
		}
		sent, err := s.store.CountNotificationsByUserID(ctx, userID, reminder.StatusSent)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計の取得に失敗しました"})
			log.Printf("送信済み通知数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, dashboardStatsResponse{
			TotalEvents:          totalEvents,
			UpcomingEvents:       upcomingEvents,
			TotalContacts:        totalContacts,
			PendingNotifications: pending,
			SentNotifications:    sent,
		})
	}
}

// handleNextEvent は次に開催されるイベントの取得を処理するハンドラを返す。
// 今後のイベントが存在しない場合はnullを返す。
func (s *Server) handleNextEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ev, err := s.store.NextEventByUserID(c.Request.Context(), userID, s.now().UTC())
		if errors.Is(err, reminder.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"next_event": nil})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "次のイベントの取得に失敗しました"})
			log.Printf("次のイベント取得エラー: %v", err)
			return
		}

		count, err := s.store.CountSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			log.Printf("購読者数取得エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"next_event": toEventResponse(ev, count)})
	}
}

// handleRecentActivity は最近の通知アクティビティ取得を処理するハンドラを返す。
// 作成日時の新しい順に返す。
func (s *Server) handleRecentActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		limit := int64(20)
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitの値が不正です"})
				return
			}
			limit = parsed
		}

		notifications, err := s.store.ListRecentNotificationsByUserID(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アクティビティの取得に失敗しました"})
			log.Printf("アクティビティ取得エラー: %v", err)
			return
		}

		responses := make([]notificationResponse, 0, len(notifications))
		for _, n := range notifications {
			responses = append(responses, s.toNotificationResponse(c, n))
		}

		c.JSON(http.StatusOK, responses)
	}
}
