// Command generate writes testdata/seed.json, the demo users and monthly
// budgets loaded into an empty database on first start.
//
//	go run ./testdata/generate
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
)

type seedUser struct {
	ID    int64  `json:"userId"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type seedBudget struct {
	UserID       int64           `json:"userId"`
	Category     string          `json:"category"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
}

type seedFile struct {
	Users   []seedUser   `json:"users"`
	Budgets []seedBudget `json:"budgets"`
}

// User 1 is the default receipt owner.
var users = []seedUser{
	{1, "Demo User", "demo@aimms.local"},
	{2, "Amara Okafor", "amara@aimms.local"},
	{3, "Lucas Meyer", "lucas@aimms.local"},
	{4, "Priya Nair", "priya@aimms.local"},
	{5, "Tomás Silva", "tomas@aimms.local"},
}

var categories = []struct {
	name string
	base int64
}{
	{"Food & Dining", 400},
	{"Transport", 150},
	{"Shopping", 250},
}

func main() {
	baseDir := findTestdataDir()

	var out seedFile
	out.Users = users
	for _, u := range users {
		// Limits scale with the user ID so projections differ per user.
		for _, c := range categories {
			limit := decimal.NewFromInt(c.base).Mul(decimal.NewFromFloat(0.75 + 0.25*float64(u.ID)))
			out.Budgets = append(out.Budgets, seedBudget{
				UserID:       u.ID,
				Category:     c.name,
				MonthlyLimit: limit.Round(2),
			})
		}
	}

	path := filepath.Join(baseDir, "seed.json")
	writeJSONFile(path, out)
	fmt.Printf("Generated %d users and %d budgets -> %s\n", len(out.Users), len(out.Budgets), path)
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	// Look for the testdata directory relative to common locations.
	candidates := []string{
		"testdata",
		"./testdata",
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	// Fallback.
	return "testdata"
}
