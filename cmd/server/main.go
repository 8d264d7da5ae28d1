package main

import (
	"log"

	"github.com/xuhao2004/kimochi-sub000/internal/config"
	"github.com/xuhao2004/kimochi-sub000/internal/database"
	"github.com/xuhao2004/kimochi-sub000/internal/handlers"
	"github.com/xuhao2004/kimochi-sub000/internal/middleware"
	"github.com/xuhao2004/kimochi-sub000/internal/services"
	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// @title           Kimochi Assessment API
// @version         1.0
// @description     Chat-embedded collaborative assessment sessions (MBTI, SCL-90, SDS)
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter "Bearer {token}"

func main() {
	cfg := config.Load()

	db := database.Connect(cfg)
	database.AutoMigrate(db)

	hub := ws.NewHub()

	authService := services.NewAuthService(db, cfg.JWTSecret)
	questionnaireService := services.NewQuestionnaireService(db)
	scoringService := services.NewScoringService()
	assessmentService := services.NewAssessmentService(db, questionnaireService, scoringService)
	inviteService := services.NewInviteService(db, hub, assessmentService)
	chatService := services.NewChatService(db, hub, inviteService)

	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chatService)
	assessmentHandler := handlers.NewAssessmentHandler(assessmentService, inviteService)
	questionnaireHandler := handlers.NewQuestionnaireHandler(questionnaireService)
	wsHandler := handlers.NewWSHandler(hub)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/ws/room/:id", middleware.JWTAuth(authService), wsHandler.HandleWebSocket)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		rooms := api.Group("/rooms")
		rooms.Use(middleware.JWTAuth(authService))
		{
			rooms.POST("", chatHandler.CreateRoom)
			rooms.GET("", chatHandler.ListRooms)
			rooms.GET("/:id/messages", chatHandler.ListMessages)
			rooms.POST("/:id/messages", chatHandler.SendMessage)
		}

		assessments := api.Group("/assessments")
		assessments.Use(middleware.JWTAuth(authService))
		{
			assessments.POST("", assessmentHandler.Create)
			assessments.GET("/:id", assessmentHandler.Get)
			assessments.PUT("/:id/progress", assessmentHandler.SaveProgress)
			assessments.POST("/:id/submit", assessmentHandler.Submit)
		}

		questionnaires := api.Group("/questionnaires")
		questionnaires.Use(middleware.JWTAuth(authService))
		{
			questionnaires.POST("/import", questionnaireHandler.Import)
			questionnaires.GET("/:type", questionnaireHandler.GetQuestions)
		}
	}

	log.Printf("server starting on :%s", cfg.ServerPort)
	if err := r.Run(":" + cfg.ServerPort); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
