package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/pkg/middleware"
)

// createSubscriptionRequest は購読作成リクエストのJSON構造。
type createSubscriptionRequest struct {
	// ContactID は購読者の連絡先ID。
	ContactID string `json:"contact_id" binding:"required"`
}

// replaceSubscribersRequest は購読者一覧の置き換えリクエストのJSON構造。
type replaceSubscribersRequest struct {
	// ContactIDs はあるべき購読者の連絡先ID一覧。
	ContactIDs []string `json:"contact_ids"`
}

// subscriptionResponse は購読のJSONレスポンス構造。
type subscriptionResponse struct {
	// ID は購読の一意識別子。
	ID string `json:"id"`
	// EventID は購読対象のイベントID。
	EventID string `json:"event_id"`
	// ContactID は購読者の連絡先ID。
	ContactID string `json:"contact_id"`
	// ContactName は購読者の表示名。
	ContactName string `json:"contact_name"`
	// ContactEmail は購読者のメールアドレス。
	ContactEmail string `json:"contact_email"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// handleListSubscriptions はイベントの購読一覧取得を処理するハンドラを返す。
// 購読に連絡先の名前とメールアドレスを添えて返す。
func (s *Server) handleListSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		subs, err := s.store.ListSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			log.Printf("購読一覧取得エラー: %v", err)
			return
		}

		responses := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			resp := subscriptionResponse{
				ID:        sub.ID,
				EventID:   sub.EventID,
				ContactID: sub.ContactID,
				CreatedAt: sub.CreatedAt.UTC().Format(timeFormat),
			}
			ct, err := s.store.GetContact(c.Request.Context(), sub.ContactID)
			if err != nil {
				// 連絡先が削除されている場合でも購読自体は返す
				resp.ContactName = "不明な連絡先"
			} else {
				resp.ContactName = ct.Name
				resp.ContactEmail = ct.Email
			}
			responses = append(responses, resp)
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleCreateSubscription はイベントへの購読追加を処理するハンドラを返す。
// 既に同じ連絡先の購読が存在する場合は409を返す。
// 作成後、イベントの通知集合を再実体化する。
func (s *Server) handleCreateSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		var req createSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, ok := s.ownedContact(c, userID, req.ContactID); !ok {
			return
		}

		// 重複購読の事前チェック。並行リクエストとの競合は
		// (event_id, contact_id) の一意性制約が最終的に防ぐ。
		subs, err := s.store.ListSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			log.Printf("購読一覧取得エラー: %v", err)
			return
		}
		for _, sub := range subs {
			if sub.ContactID == req.ContactID {
				c.JSON(http.StatusConflict, gin.H{"error": "この連絡先は既にイベントを購読しています"})
				return
			}
		}

		sub := reminder.Subscription{
			ID:        uuid.New().String(),
			EventID:   ev.ID,
			ContactID: req.ContactID,
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.CreateSubscription(c.Request.Context(), sub); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の作成に失敗しました"})
			log.Printf("購読作成エラー: %v", err)
			return
		}

		if err := s.engine.Rematerialize(c.Request.Context(), ev.ID); err != nil {
			// 実体化の失敗は次回の調整で回収されるため、作成自体は成功として返す
			log.Printf("通知の実体化エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusCreated, sub)
	}
}

// handleDeleteSubscription はイベントからの購読削除を処理するハンドラを返す。
// 削除後、イベントの通知集合を再実体化してpending通知を取り除く。
func (s *Server) handleDeleteSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		sub, err := s.store.GetSubscription(c.Request.Context(), c.Param("sub_id"))
		if errors.Is(err, reminder.ErrNotFound) || (err == nil && sub.EventID != ev.ID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "購読が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の取得に失敗しました"})
			log.Printf("購読取得エラー: %v", err)
			return
		}

		if err := s.store.DeleteSubscription(c.Request.Context(), sub.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の削除に失敗しました"})
			log.Printf("購読削除エラー: %v", err)
			return
		}

		if err := s.engine.Rematerialize(c.Request.Context(), ev.ID); err != nil {
			log.Printf("通知の再実体化エラー（イベント: %s）: %v", ev.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{"message": "購読を削除しました"})
	}
}

// handleReplaceSubscribers はイベントの購読者一覧の置き換えを処理するハンドラを返す。
// あるべき購読者集合を受け取り、現在の購読との差分だけを適用する。
// 同じ一覧を何度送っても結果は変わらない。
func (s *Server) handleReplaceSubscribers() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		ev, ok := s.eventForUser(c)
		if !ok {
			return
		}

		var req replaceSubscribersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		// すべての連絡先が現在のユーザーの所有であることを確認する
		for _, contactID := range req.ContactIDs {
			if _, ok := s.ownedContact(c, userID, contactID); !ok {
				return
			}
		}

		if err := s.engine.OnSubscriptionsChanged(c.Request.Context(), ev.ID, req.ContactIDs); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読者一覧の更新に失敗しました"})
			log.Printf("購読調整エラー（イベント: %s）: %v", ev.ID, err)
			return
		}

		subs, err := s.store.ListSubscriptionsByEventID(c.Request.Context(), ev.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			log.Printf("購読一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":          "購読者一覧を更新しました",
			"subscriber_count": len(subs),
		})
	}
}

// ownedContact は連絡先を取得し、指定ユーザーの所有であることを確認する。
// 失敗時はレスポンスを書き込んでfalseを返す。
func (s *Server) ownedContact(c *gin.Context, userID, contactID string) (reminder.Contact, bool) {
	ct, err := s.store.GetContact(c.Request.Context(), contactID)
	if errors.Is(err, reminder.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "連絡先が見つかりません"})
		return reminder.Contact{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先の取得に失敗しました"})
		log.Printf("連絡先取得エラー: %v", err)
		return reminder.Contact{}, false
	}
	if ct.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "この連絡先へのアクセス権がありません"})
		return reminder.Contact{}, false
	}
	return ct, true
}
