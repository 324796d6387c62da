package main

import (
	"context"
	"log"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outreach-mcp/internal/config"
	"outreach-mcp/internal/db"
	"outreach-mcp/internal/logging"
	"outreach-mcp/internal/repository"
	"outreach-mcp/pkg/models"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(cfg.Environment)
	defer func() { _ = logger.Sync() }()

	sessions, err := db.NewSessionFactory(ctx, cfg.DSN(), db.FromConfig(cfg), logger)
	if err != nil {
		logger.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer sessions.Close()

	store := repository.NewPostgresStore(sessions.Pool())
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	// 1. Ensure the demo campaign exists
	campaignName := "Q3 Platform Outreach"
	campaign, err := store.GetCampaignByName(ctx, campaignName)
	if err != nil {
		logger.Fatal("Failed to look up campaign", zap.Error(err))
	}
	if campaign == nil {
		campaign = &models.Campaign{
			ID:          uuid.New().String(),
			Name:        campaignName,
			Description: "Outbound to mid-market platform teams.",
			Status:      "active",
		}
		if err := store.CreateCampaign(ctx, campaign); err != nil {
			logger.Fatal("Failed to create campaign", zap.Error(err))
		}
		logger.Info("Created campaign", zap.String("id", campaign.ID))
	} else {
		logger.Info("Found existing campaign", zap.String("id", campaign.ID))
	}

	// 2. Check for existing prospects to prevent duplicates
	existing, err := store.ListProspects(ctx, campaign.ID)
	if err != nil {
		logger.Fatal("Failed to list prospects", zap.Error(err))
	}
	existingMap := make(map[string]bool)
	for _, p := range existing {
		existingMap[p.Domain] = true
	}

	// 3. Create seed prospects
	prospects := []struct {
		Company string
		Domain  string
		Contact string
		Email   string
	}{
		{"Acme Robotics", "acmerobotics.example", "Dana Reyes", "dana@acmerobotics.example"},
		{"Northwind Analytics", "northwind.example", "Sam Okafor", "sam@northwind.example"},
		{"Bluefin Logistics", "bluefin.example", "Priya Nair", "priya@bluefin.example"},
	}

	for _, p := range prospects {
		if existingMap[p.Domain] {
			logger.Info("Skipping existing prospect", zap.String("domain", p.Domain))
			continue
		}

		prospect := &models.Prospect{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			Company:    p.Company,
			Domain:     p.Domain,
			Contact:    p.Contact,
			Email:      p.Email,
			Status:     models.ProspectStatusNew,
		}
		if err := store.CreateProspect(ctx, prospect); err != nil {
			logger.Error("Failed to create prospect", zap.String("company", p.Company), zap.Error(err))
		} else {
			logger.Info("Seeded prospect", zap.String("company", p.Company), zap.String("id", prospect.ID))
		}
	}
	logger.Info("Seeding complete!")
}
