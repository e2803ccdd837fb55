package db

import (
	"log"

	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
	"github.com/Shashank188/CanvasCollab/internal/user"
)

// Migrate runs database migrations.
func Migrate() {
	err := AppDb.AutoMigrate(
		&user.User{},
		&canvasstore.Canvas{},
		&canvasstore.Shape{},
		&canvasstore.Event{},
		&canvasstore.CanvasSnapshot{},
	)

	if err != nil {
		log.Fatal(err)
	}

	log.Println("Database schema migrated successfully")
}

// SeedData seeds the database with a test account (for development only).
func SeedData() {
	userRepo := user.NewRepository(AppDb)

	testUser := &user.User{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
		IsActive: true,
	}

	_, err := userRepo.FindByEmail(testUser.Email)
	if err != nil {
		userService := user.NewService(userRepo)
		if err := userService.Register(testUser); err != nil {
			log.Printf("Error creating test user: %v", err)
		} else {
			log.Printf("Created test user: %s", testUser.Email)
		}
	} else {
		log.Printf("Test user already exists: %s", testUser.Email)
	}
}
