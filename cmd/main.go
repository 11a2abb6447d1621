package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"chatverse/backend/internal/ai"
	"chatverse/backend/internal/api/handler"
	"chatverse/backend/internal/chathub"
	"chatverse/backend/internal/identity"
	"chatverse/backend/internal/models"
	"chatverse/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupDependencies() (*gorm.DB, *redis.Client) {
	dsn := envOr("DATABASE_DSN",
		"host=localhost user=user password=password dbname=chatversedb port=5432 sslmode=disable")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: envOr("REDIS_ADDR", "localhost:6379"),
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func main() {
	log.Println("Starting Chatverse realtime backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	db, rdb := setupDependencies()
	s := storage.NewService(db, rdb)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is not set!")
	}
	verifier := identity.NewJWTVerifier([]byte(jwtSecret), os.Getenv("JWT_ISSUER"))

	aiClient := ai.NewHTTPClient(
		envOr("AI_BASE_URL", "https://api.openai.com"),
		os.Getenv("AI_API_KEY"),
		envOr("AI_MODEL", "gpt-4o-mini"),
		2*time.Minute,
	)

	hub := chathub.NewHub(s, aiClient)
	go hub.Run()

	r := gin.Default()
	h := handler.NewHandler(hub, verifier, s)

	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Healthz)

	server := &http.Server{
		Addr:           envOr("LISTEN_ADDR", ":8080"),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Fatal(server.ListenAndServe())
}
