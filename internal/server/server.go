package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/remind/internal/config"
	"github.com/nao1215/remind/internal/mailer"
	"github.com/nao1215/remind/internal/reminder"
	"github.com/nao1215/remind/internal/store"
	"github.com/nao1215/remind/pkg/middleware"
)

// Server はリマインダーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はSQLiteによる永続化層。
	store *store.Store
	// engine は購読調整と通知実体化のコアエンジン。
	engine *reminder.Engine
	// mailer はテスト送信に使うメール送信コラボレータ。
	mailer mailer.Mailer
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewServer は新しいサーバーを生成する。
func NewServer(cfg *config.Config, st *store.Store, m mailer.Mailer) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router: router,
		port:   cfg.Port,
		store:  st,
		engine: reminder.NewEngine(st),
		mailer: m,
		now:    time.Now,
	}
	s.setupRoutes(cfg.JWTSecret)

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		events := api.Group("/events")
		{
			// イベント作成
			events.POST("", s.handleCreateEvent())
			// イベント一覧取得
			events.GET("", s.handleListEvents())
			// イベント詳細取得
			events.GET("/:id", s.handleGetEvent())
			// イベント更新
			events.PUT("/:id", s.handleUpdateEvent())
			// イベント削除
			events.DELETE("/:id", s.handleDeleteEvent())
			// イベントの購読一覧取得
			events.GET("/:id/subscriptions", s.handleListSubscriptions())
			// イベントへの購読追加
			events.POST("/:id/subscriptions", s.handleCreateSubscription())
			// イベントからの購読削除
			events.DELETE("/:id/subscriptions/:sub_id", s.handleDeleteSubscription())
			// イベントの購読者一覧の置き換え（差分調整）
			events.PUT("/:id/subscribers", s.handleReplaceSubscribers())
			// イベントの通知一覧取得
			events.GET("/:id/notifications", s.handleListEventNotifications())
		}

		contacts := api.Group("/contacts")
		{
			// 連絡先作成
			contacts.POST("", s.handleCreateContact())
			// 連絡先一覧取得
			contacts.GET("", s.handleListContacts())
			// 連絡先詳細取得
			contacts.GET("/:id", s.handleGetContact())
			// 連絡先更新
			contacts.PUT("/:id", s.handleUpdateContact())
			// 連絡先削除
			contacts.DELETE("/:id", s.handleDeleteContact())
		}

		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleListNotifications())
			// pending通知の手動即時送信
			notifications.POST("/:id/send-test", s.handleSendTest())
			// SMTP設定確認メールの送信
			notifications.POST("/test-email", s.handleTestEmail())
		}

		dashboard := api.Group("/dashboard")
		{
			// ダッシュボード統計取得
			dashboard.GET("/stats", s.handleDashboardStats())
			// 次のイベント取得
			dashboard.GET("/next-event", s.handleNextEvent())
			// 最近の通知アクティビティ取得
			dashboard.GET("/recent-activity", s.handleRecentActivity())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "remind"})
	})
}
