package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/pkg/middleware"
)

// timeFormat はJSONレスポンス内の日時表現。
const timeFormat = "2006-01-02T15:04:05Z"

// eventRequest はイベント作成・更新リクエストのJSON構造。
type eventRequest struct {
	// Title はイベントのタイトル。
	Title string `json:"title" binding:"required"`
	// Description はイベントの説明。
	Description string `json:"description"`
	// Location はイベントの開催場所。
	Location string `json:"location"`
	// Date はイベントの開催日時。
	Date time.Time `json:"event_date" binding:"required"`
	// Specs はリマインダー指定の一覧。
	Specs []reminder.Spec `json:"reminder_specs"`
}

// eventResponse はイベントのJSONレスポンス構造。
type eventResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// UserID はイベントを作成したユーザーのID。
	UserID string `json:"user_id"`
	// Title はイベントのタイトル。
	Title string `json:"title"`
	// Description はイベントの説明。
	Description string `json:"description"`
	// Location はイベントの開催場所。
	Location string `json:"location"`
	// Date はイベントの開催日時。
	Date string `json:"event_date"`
	// Specs はリマインダー指定の一覧。
	Specs []reminder.Spec `json:"reminder_specs"`
	// SubscriberCount はイベントの購読者数。
	SubscriberCount int64 `json:"subscriber_count"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toEventResponse はドメインのイベントをJSONレスポンスに変換する。
func toEventResponse(ev reminder.Event, subscriberCount int64) eventResponse {
	specs := ev.Specs
	if specs == nil {
		specs = []reminder.Spec{}
	}
	return eventResponse{
		ID:              ev.ID,
		UserID:          ev.UserID,
		Title:           ev.Title,
		Description:     ev.Description,
		Location:        ev.Location,
		Date:            ev.Date.UTC().Format(timeFormat),
		Specs:           specs,
		SubscriberCount: subscriberCount,
		CreatedAt:       ev.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:       ev.UpdatedAt.UTC().Format(timeFormat),
	}
}

// handleCreateEvent はイベント作成を処理するハンドラを返す。
// 作成後、現在の購読者（新規作成なのでゼロ人）に対して通知を実体化する。
func (s *Server) handleCreateEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req eventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := reminder.ValidateSpecs(req.Specs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		now := s.now().UTC()
		ev := reminder.Event{
			ID:          uuid.New().String(),
			UserID:      userID,
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			Date:        req.Date.UTC(),
			Specs:       req.Specs,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateEvent(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの作成に失敗しました"})
			log.Printf("イベント作成エラー: %v", err)
			return
		}

		if err := s.engine.OnEventChanged(c.Request.Context(), ev); err != nil {
			// 実体化の失敗は次回の調整で回収されるため、作成自体は成功として返す
			log.Printf("通知の実体化エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusCreated, toEventResponse(ev, 0))
	}
}

// handleListEvents はユーザーのイベント一覧取得を処理するハンドラを返す。
func (s *Server) handleListEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		events, err := s.store.ListEventsByUserID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベント一覧の取得に失敗しました"})
			log.Printf("イベント一覧取得エラー: %v", err)
			return
		}

		responses := make([]eventResponse, 0, len(events))
		for _, ev := range events {
			count, err := s.store.CountSubscriptionsByEventID(c.Request.Context(), ev.ID)
			if err != nil {
				log.Printf("購読者数取得エラー（イベント: %s）: %v", ev.ID, err)
			}
			responses = append(responses, toEventResponse(ev, count))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetEvent はイベント詳細取得を処理するハンドラを返す。
func (s *Server) handleGetEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		count, err := s.store.CountSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			log.Printf("購読者数取得エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusOK, toEventResponse(ev, count))
	}
}

// handleUpdateEvent はイベント更新を処理するハンドラを返す。
// 開催日時やリマインダー指定の変更は、pending通知の発火日時の付け替えと
// 通知の追加・削除を引き起こす。送信済み・失敗の通知には影響しない。
func (s *Server) handleUpdateEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		var req eventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := reminder.ValidateSpecs(req.Specs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ev.Title = req.Title
		ev.Description = req.Description
		ev.Location = req.Location
		ev.Date = req.Date.UTC()
		ev.Specs = req.Specs
		ev.UpdatedAt = s.now().UTC()

		if err := s.store.UpdateEvent(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの更新に失敗しました"})
			log.Printf("イベント更新エラー: %v", err)
			return
		}

		if err := s.engine.OnEventChanged(c.Request.Context(), ev); err != nil {
			log.Printf("通知の再実体化エラー（イベント: %s）: %v", ev.ID, err)
		}

		count, err := s.store.CountSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			log.Printf("購読者数取得エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusOK, toEventResponse(ev, count))
	}
}

// handleDeleteEvent はイベント削除を処理するハンドラを返す。
// 購読と未送信の通知はカスケード削除されるが、送信済み・失敗の通知は
// 送信履歴として保持される。
func (s *Server) handleDeleteEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		if err := s.store.DeleteEvent(c.Request.Context(), ev.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの削除に失敗しました"})
			log.Printf("イベント削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "イベントを削除しました"})
	}
}

// eventForUser はパスパラメータのイベントを取得し、現在のユーザーが
// 所有者であることを確認する。失敗時はレスポンスを書き込んでfalseを返す。
func (s *Server) eventForUser(c *gin.Context) (reminder.Event, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return reminder.Event{}, false
	}

	ev, err := s.store.GetEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, reminder.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
		return reminder.Event{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
		log.Printf("イベント取得エラー: %v", err)
		return reminder.Event{}, false
	}

	if ev.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "このイベントへのアクセス権がありません"})
		return reminder.Event{}, false
	}
	return ev, true
}
