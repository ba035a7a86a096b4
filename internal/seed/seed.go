// Package seed holds the built-in guideline catalogue and bootstraps it into
// a repository. Seeding is idempotent: guidelines that already exist are
// left untouched, including ones an operator has edited or disabled.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// CreatedBy is recorded on guidelines created by Seed.
const CreatedBy = "system:seed"

// Result counts what Seed did.
type Result struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Defaults returns the built-in catalogue, one or more guidelines per
// category. Each call returns fresh values.
func Defaults() []model.Guideline {
	maxFiles := 20
	gs := []model.Guideline{
		{
			ID:          "cognitive-isolation-backend",
			Name:        "Backend agent scope",
			Description: "Keeps the backend agent inside backend code.",
			Category:    model.CategoryCognitiveIsolation,
			Priority:    900,
			Condition:   model.Condition{Agents: []string{"backend"}},
			Action: model.Action{
				Type:         model.ActionToolRestriction,
				Instruction:  "Only modify backend sources and their tests. Leave frontend and infrastructure code to their owning agents.",
				ToolsAllowed: []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
			},
		},
		{
			ID:          "cognitive-isolation-frontend",
			Name:        "Frontend agent scope",
			Description: "Keeps the frontend agent inside UI code.",
			Category:    model.CategoryCognitiveIsolation,
			Priority:    900,
			Condition:   model.Condition{Agents: []string{"frontend"}},
			Action: model.Action{
				Type:         model.ActionToolRestriction,
				Instruction:  "Only modify frontend sources and their tests.",
				ToolsAllowed: []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
			},
		},
		{
			ID:          "hitl-destructive-operations",
			Name:        "Confirm destructive operations",
			Description: "Requires a human to approve deletions and force operations.",
			Category:    model.CategoryHITLGate,
			Priority:    950,
			Condition:   model.Condition{Actions: []string{"delete", "force_push", "drop"}},
			Action: model.Action{
				Type:          model.ActionHITLGate,
				Instruction:   "Stop and ask for confirmation before running a destructive operation.",
				GateType:      "destructive_operation",
				GateThreshold: "mandatory",
			},
		},
		{
			ID:          "hitl-protected-paths",
			Name:        "Review protected paths",
			Description: "Requires review before touching deployment and CI configuration.",
			Category:    model.CategoryHITLGate,
			Priority:    850,
			Condition:   model.Condition{Paths: []string{".github/**", "deploy/**", "**/Dockerfile"}},
			Action: model.Action{
				Type:          model.ActionHITLGate,
				Instruction:   "Changes to CI and deployment files need human review.",
				GateType:      "protected_path_commit",
				GateThreshold: "advisory",
			},
		},
		{
			ID:          "tdd-red-green-refactor",
			Name:        "Test first",
			Description: "Enforces the red, green, refactor cycle for implementation work.",
			Category:    model.CategoryTDDProtocol,
			Priority:    800,
			Condition:   model.Condition{Actions: []string{"implement", "fix"}},
			Action: model.Action{
				Type:         model.ActionConstraint,
				Instruction:  "Write a failing test before changing production code, make it pass with the smallest change, then refactor.",
				RequireTests: true,
			},
		},
		{
			ID:          "context-file-budget",
			Name:        "Bounded change size",
			Description: "Keeps each task to a reviewable number of files.",
			Category:    model.CategoryContextConstraint,
			Priority:    600,
			Action: model.Action{
				Type:        model.ActionConstraint,
				Instruction: "Split work that touches more than 20 files into separate tasks.",
				MaxFiles:    &maxFiles,
			},
		},
		{
			ID:          "audit-gate-decisions",
			Name:        "Record gate decisions",
			Description: "Asks agents to log the outcome of every gate.",
			Category:    model.CategoryAuditTelemetry,
			Priority:    500,
			Condition:   model.Condition{Events: []string{"gate_resolved"}},
			Action: model.Action{
				Type:        model.ActionTelemetry,
				Instruction: "Log the gate decision with its reason before continuing.",
			},
		},
		{
			ID:          "security-no-secrets",
			Name:        "No secrets in source",
			Description: "Blocks reading and writing credential files.",
			Category:    model.CategorySecurity,
			Priority:    1000,
			Condition:   model.Condition{Paths: []string{"**/.env", "**/*.pem", "**/*.key"}},
			Action: model.Action{
				Type:          model.ActionToolRestriction,
				Instruction:   "Never read, print or commit credential files. Use the secret manager instead.",
				ToolsDenied:   []string{"Write", "Edit"},
				RequireReview: true,
			},
		},
		{
			ID:          "custom-commit-messages",
			Name:        "Descriptive commits",
			Description: "House style for commit messages.",
			Category:    model.CategoryCustom,
			Priority:    200,
			Condition:   model.Condition{Actions: []string{"commit"}},
			Action: model.Action{
				Type:        model.ActionInstruction,
				Instruction: "Write commit messages in the imperative mood and describe what the change does.",
			},
		},
	}
	for i := range gs {
		gs[i].Enabled = true
		gs[i].Version = 1
		gs[i].CreatedBy = CreatedBy
	}
	return gs
}

// Seed creates every guideline in gs that the repository does not already
// hold. With no guidelines it seeds Defaults. Existing ids are skipped; any
// other lookup or create error stops seeding and is returned with the
// counts so far.
func Seed(ctx context.Context, repo storage.Repository, logger *slog.Logger, gs ...model.Guideline) (Result, error) {
	if len(gs) == 0 {
		gs = Defaults()
	}
	var res Result
	for _, g := range gs {
		_, err := repo.GetGuideline(ctx, g.ID)
		switch {
		case err == nil:
			res.Skipped++
			continue
		case !storage.IsNotFound(err):
			return res, fmt.Errorf("seed: get %s: %w", g.ID, err)
		}
		if _, err := repo.CreateGuideline(ctx, g); err != nil {
			return res, fmt.Errorf("seed: create %s: %w", g.ID, err)
		}
		res.Created++
		logger.Debug("seed: guideline created", "id", g.ID, "category", g.Category)
	}
	logger.Info("seed: complete", "created", res.Created, "skipped", res.Skipped)
	return res, nil
}
