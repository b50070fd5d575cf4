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

// contactRequest は連絡先作成・更新リクエストのJSON構造。
type contactRequest struct {
	// Name は連絡先の表示名。
	Name string `json:"name" binding:"required"`
	// Email は通知の送信先メールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Phone は電話番号（任意）。
	Phone string `json:"phone"`
	// Notes はメモ（任意）。
	Notes string `json:"notes"`
}

// contactResponse は連絡先のJSONレスポンス構造。
type contactResponse struct {
	// ID は連絡先の一意識別子。
	ID string `json:"id"`
	// UserID は連絡先を所有するユーザーのID。
	UserID string `json:"user_id"`
	// Name は連絡先の表示名。
	Name string `json:"name"`
	// Email は通知の送信先メールアドレス。
	Email string `json:"email"`
	// Phone は電話番号。
	Phone string `json:"phone"`
	// Notes はメモ。
	Notes string `json:"notes"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// toContactResponse はドメインの連絡先をJSONレスポンスに変換する。
func toContactResponse(ct reminder.Contact) contactResponse {
	return contactResponse{
		ID:        ct.ID,
		UserID:    ct.UserID,
		Name:      ct.Name,
		Email:     ct.Email,
		Phone:     ct.Phone,
		Notes:     ct.Notes,
		CreatedAt: ct.CreatedAt.UTC().Format(timeFormat),
	}
}

// handleCreateContact は連絡先作成を処理するハンドラを返す。
func (s *Server) handleCreateContact() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req contactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ct := reminder.Contact{
			ID:        uuid.New().String(),
			UserID:    userID,
			Name:      req.Name,
			Email:     req.Email,
			Phone:     req.Phone,
			Notes:     req.Notes,
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.CreateContact(c.Request.Context(), ct); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先の作成に失敗しました"})
			log.Printf("連絡先作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toContactResponse(ct))
	}
}

// handleListContacts はユーザーの連絡先一覧取得を処理するハンドラを返す。
func (s *Server) handleListContacts() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		contacts, err := s.store.ListContactsByUserID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先一覧の取得に失敗しました"})
			log.Printf("連絡先一覧取得エラー: %v", err)
			return
		}

		responses := make([]contactResponse, 0, len(contacts))
		for _, ct := range contacts {
			responses = append(responses, toContactResponse(ct))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetContact は連絡先詳細取得を処理するハンドラを返す。
func (s *Server) handleGetContact() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, ok := s.contactForUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toContactResponse(ct))
	}
}

// handleUpdateContact は連絡先更新を処理するハンドラを返す。
func (s *Server) handleUpdateContact() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, ok := s.contactForUser(c)
		if !ok {
			return
		}

		var req contactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ct.Name = req.Name
		ct.Email = req.Email
		ct.Phone = req.Phone
		ct.Notes = req.Notes

		if err := s.store.UpdateContact(c.Request.Context(), ct); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先の更新に失敗しました"})
			log.Printf("連絡先更新エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toContactResponse(ct))
	}
}

// handleDeleteContact は連絡先削除を処理するハンドラを返す。
// この連絡先の購読と未送信の通知はカスケード削除される。
func (s *Server) handleDeleteContact() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, ok := s.contactForUser(c)
		if !ok {
			return
		}

		if err := s.store.DeleteContact(c.Request.Context(), ct.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "連絡先の削除に失敗しました"})
			log.Printf("連絡先削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "連絡先を削除しました"})
	}
}

// contactForUser はパスパラメータの連絡先を取得し、現在のユーザーが
// 所有者であることを確認する。失敗時はレスポンスを書き込んでfalseを返す。
func (s *Server) contactForUser(c *gin.Context) (reminder.Contact, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return reminder.Contact{}, false
	}

	ct, err := s.store.GetContact(c.Request.Context(), c.Param("id"))
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
