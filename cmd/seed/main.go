package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"heritage-portal/backend/internal/config"
	"heritage-portal/backend/internal/logging"
	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	// 1. Apply schema
	if _, err := pool.Exec(ctx, repository.Schema); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	logger.Info("Schema applied")

	store := repository.NewPostgresWorkflowStore(pool)

	// 2. Check for existing definitions to prevent duplicates
	existingDefs, err := store.ListDefinitions(ctx)
	if err != nil {
		log.Fatalf("Failed to list existing definitions: %v", err)
	}
	existingByName := make(map[string]bool)
	for _, d := range existingDefs {
		existingByName[d.Name] = true
	}

	// 3. Create the standard four approval workflows
	definitions := []*models.WorkflowDefinition{
		{
			Name: "Publication Approval",
			Kind: models.KindPublication,
			Steps: []models.StepDefinition{
				{Name: "Editorial Review", RequiredRole: "editor"},
				{Name: "Curatorial Review", RequiredRole: "curator"},
				{Name: "Final Approval", RequiredRole: "director"},
			},
			Active: true,
		},
		{
			Name: "Legal Deposit Intake",
			Kind: models.KindLegalDeposit,
			Steps: []models.StepDefinition{
				{Name: "Registration Check", RequiredRole: models.RoleSystem, AutoComplete: true},
				{Name: "Catalog Entry", RequiredRole: "cataloger"},
				{Name: "Deposit Confirmation", RequiredRole: models.RoleSystem, AutoComplete: true},
			},
			Active: true,
		},
		{
			Name: "Reproduction Request",
			Kind: models.KindReproduction,
			Steps: []models.StepDefinition{
				{Name: "Rights Clearance", RequiredRole: "rights_officer"},
				{Name: "Imaging", RequiredRole: "imaging_technician"},
				{Name: "Delivery Approval", RequiredRole: "curator"},
			},
			Active: true,
			// Reproduction work waits on payment before the first step opens.
			StartsPending: true,
		},
		{
			Name: "Restoration Approval",
			Kind: models.KindRestoration,
			Steps: []models.StepDefinition{
				{Name: "Condition Assessment", RequiredRole: "conservator"},
				{Name: "Treatment Proposal", RequiredRole: "conservator"},
				{Name: "Committee Sign-off", RequiredRole: "director"},
			},
			Active: true,
		},
	}

	for _, def := range definitions {
		if existingByName[def.Name] {
			logger.Info("Skipping existing definition", "name", def.Name)
			continue
		}
		def.ID = uuid.New().String()
		def.CreatedAt = time.Now().UTC()
		def.UpdatedAt = def.CreatedAt
		if err := store.CreateDefinition(ctx, def); err != nil {
			log.Printf("Failed to create definition %s: %v", def.Name, err)
		} else {
			logger.Info("Seeded definition", "name", def.Name, "id", def.ID)
		}
	}

	// 4. Seed a starting committee
	existingMembers, err := store.ListMembers(ctx, false)
	if err != nil {
		log.Fatalf("Failed to list existing members: %v", err)
	}
	existingRefs := make(map[string]bool)
	for _, m := range existingMembers {
		existingRefs[m.UserRef] = true
	}

	paintings := "paintings"
	manuscripts := "manuscripts"
	members := []*models.CommitteeMember{
		{UserRef: "president@heritage.example", Role: models.CommitteePresident},
		{UserRef: "secretary@heritage.example", Role: models.CommitteeSecretary},
		{UserRef: "conservator1@heritage.example", Role: models.CommitteeOrdinary, Specialization: &paintings},
		{UserRef: "conservator2@heritage.example", Role: models.CommitteeOrdinary, Specialization: &manuscripts},
	}

	for _, m := range members {
		if existingRefs[m.UserRef] {
			logger.Info("Skipping existing member", "user_ref", m.UserRef)
			continue
		}
		m.ID = uuid.New().String()
		m.Active = true
		m.AppointedAt = time.Now().UTC()
		if err := store.CreateMember(ctx, m); err != nil {
			log.Printf("Failed to create member %s: %v", m.UserRef, err)
		} else {
			logger.Info("Seeded committee member", "user_ref", m.UserRef, "role", m.Role)
		}
	}

	logger.Info("Seeding complete!")
}
