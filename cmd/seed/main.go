// Command seed provisions a development database: schema, a default tenant,
// demo CRM records and the pipeline definitions from pipelines.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"admitflow/backend/internal/config"
	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/pkg/models"
)

type fixture struct {
	Pipelines []models.PipelineDefinition `yaml:"pipelines"`
}

func main() {
	schemaPath := flag.String("schema", "", "Path to schema.sql to apply before seeding (optional)")
	fixturePath := flag.String("pipelines", "cmd/seed/pipelines.yaml", "Path to the pipeline fixture file")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if *schemaPath != "" {
		schema, err := os.ReadFile(*schemaPath)
		if err != nil {
			log.Fatalf("Failed to read schema: %v", err)
		}
		if _, err := pool.Exec(ctx, string(schema)); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("schema applied", "path", *schemaPath)
	}

	repo := repository.NewPostgresRepository(pool)

	// 1. Ensure the dev tenant exists
	domain := "localhost"
	tenant, err := repo.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("creating default tenant", "domain", domain)
		tenant = &models.Tenant{
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := repo.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}
	} else {
		logger.Info("found existing tenant", "id", tenant.ID)
	}

	// 2. Demo CRM records
	seedEntities(ctx, pool, logger, tenant.ID)

	// 3. Pipeline definitions from the YAML fixture
	raw, err := os.ReadFile(*fixturePath)
	if err != nil {
		log.Fatalf("Failed to read pipeline fixture: %v", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		log.Fatalf("Failed to parse pipeline fixture: %v", err)
	}

	existing, err := repo.ListDefinitions(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list existing pipelines: %v", err)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, def := range existing {
		existingNames[def.Name] = true
	}

	for i := range fx.Pipelines {
		def := fx.Pipelines[i]
		if existingNames[def.Name] {
			logger.Info("skipping existing pipeline", "name", def.Name)
			continue
		}
		// Fixture stages carry ids; give each stage one if the author left it out.
		for j := range def.Stages {
			if def.Stages[j].ID == "" {
				def.Stages[j].ID = uuid.New().String()
			}
		}
		def.TenantID = tenant.ID
		if err := repo.CreateDefinition(ctx, &def); err != nil {
			log.Printf("Failed to create pipeline %s: %v", def.Name, err)
			continue
		}
		logger.Info("seeded pipeline", "name", def.Name, "id", def.ID, "stages", len(def.Stages))
	}
	logger.Info("seeding complete")
}

func seedEntities(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger, tenantID string) {
	students := []struct {
		first, last, email, phone, assigned string
	}{
		{"Ada", "Okafor", "ada.okafor@example.com", "+15550100", "counselor-1"},
		{"Liam", "Nguyen", "liam.nguyen@example.com", "+15550101", "counselor-2"},
	}
	for _, s := range students {
		_, err := pool.Exec(ctx,
			`INSERT INTO students (id, tenant_id, first_name, last_name, email, phone, assigned_to, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'new', $8)
			 ON CONFLICT (id) DO NOTHING`,
			uuid.New().String(), tenantID, s.first, s.last, s.email, s.phone, s.assigned, time.Now().UTC())
		if err != nil {
			log.Printf("Failed to seed student %s %s: %v", s.first, s.last, err)
			continue
		}
		logger.Info("seeded student", "name", s.first+" "+s.last)
	}

	leads := []struct {
		first, last, email, source string
	}{
		{"Maya", "Silva", "maya.silva@example.com", "open-day"},
		{"Tom", "Baker", "tom.baker@example.com", "webform"},
	}
	for _, l := range leads {
		_, err := pool.Exec(ctx,
			`INSERT INTO leads (id, tenant_id, first_name, last_name, email, source, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 'new', $7)
			 ON CONFLICT (id) DO NOTHING`,
			uuid.New().String(), tenantID, l.first, l.last, l.email, l.source, time.Now().UTC())
		if err != nil {
			log.Printf("Failed to seed lead %s %s: %v", l.first, l.last, err)
			continue
		}
		logger.Info("seeded lead", "name", l.first+" "+l.last)
	}
}
