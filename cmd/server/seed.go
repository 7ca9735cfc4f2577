package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aimms/backend/internal/domain"
)

// seedData is the layout of testdata/seed.json.
type seedData struct {
	Users   []domain.User   `json:"users"`
	Budgets []domain.Budget `json:"budgets"`
}

// seedIfEmpty loads demo users and budgets into an empty database. Without a
// seed file it still creates the default receipt owner.
func seedIfEmpty(ctx context.Context, a *app) error {
	count, err := a.userRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		a.log.Infow("database already has users, skipping seed", "users", count)
		return nil
	}

	data, err := loadSeed()
	if err != nil {
		a.log.Warnw("no seed file, creating default user only", "error", err)
		data = &seedData{Users: []domain.User{{
			ID:    a.cfg.Receipts.DefaultUserID,
			Name:  "Demo User",
			Email: "demo@aimms.local",
		}}}
	}

	now := time.Now()
	for i := range data.Users {
		u := data.Users[i]
		u.CreatedAt = now
		if _, err := a.userRepo.CreateWithNextID(ctx, &u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	for i := range data.Budgets {
		b := data.Budgets[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.CreatedAt = now
		if err := a.budgetRepo.Insert(ctx, &b); err != nil {
			return fmt.Errorf("seed budget %s/%s: %w", b.Category, b.ID, err)
		}
	}

	a.log.Infow("seeded database", "users", len(data.Users), "budgets", len(data.Budgets))
	return nil
}

func loadSeed() (*seedData, error) {
	// Try multiple possible locations for testdata.
	candidates := []string{
		filepath.Join("testdata", "seed.json"),
	}

	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "seed.json"),
			filepath.Join(dir, "..", "..", "testdata", "seed.json"),
		)
	}

	var raw []byte
	var loadErr error
	for _, path := range candidates {
		raw, loadErr = os.ReadFile(path)
		if loadErr == nil {
			break
		}
	}
	if loadErr != nil {
		return nil, fmt.Errorf("could not find seed.json in any candidate path: %w", loadErr)
	}

	var data seedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal seed: %w", err)
	}
	return &data, nil
}
