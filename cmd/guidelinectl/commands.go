package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
	"github.com/jb-612/dox-asdlc-sub004/internal/config"
	"github.com/jb-612/dox-asdlc-sub004/internal/hook"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/seed"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// unavailableEvaluator stands in when the hook cannot reach any repository.
type unavailableEvaluator struct{ err error }

func (u unavailableEvaluator) GetContext(context.Context, model.TaskContext) (model.EvaluatedContext, error) {
	return model.EvaluatedContext{}, u.err
}

func contextCmd(g *globals) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Evaluate a task context read from stdin (hook mode)",
		Long: `Reads a TaskContext JSON document from stdin and writes the EvaluatedContext
to stdout. Fails open: on any error the output is an empty result for the
given context and the exit status is 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := g.logger()
			var eval hook.Evaluator
			cfg, err := g.config()
			if err != nil {
				logger.Warn("hook: configuration unusable", "error", err)
				eval = unavailableEvaluator{err}
			} else {
				repo, err := storage.Open(cmd.Context(), storage.OpenConfig{
					DatabaseURL: cfg.DatabaseURL,
					IndexPrefix: cfg.IndexPrefix,
					PrimaryTerm: cfg.PrimaryTerm,
					StaticFile:  cfg.StaticFile,
					PingTimeout: timeout,
				}, logger)
				if err != nil {
					logger.Warn("hook: repository unavailable", "error", err)
					eval = unavailableEvaluator{err}
				} else {
					defer func() { _ = repo.Close() }()
					eval = newEvaluator(cfg, repo, logger)
				}
			}
			return hook.New(eval, logger, hook.WithTimeout(timeout)).
				Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", hook.DefaultTimeout, "evaluation deadline")
	return cmd
}

func decideCmd(g *globals) *cobra.Command {
	var guidelineID, gateType, result, reason, userResponse string
	var agent, domain, action, sessionID, tenantID string
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Record a human decision on a HITL gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := map[string]any{
				"guideline_id":  guidelineID,
				"gate_type":     gateType,
				"result":        result,
				"reason":        reason,
				"user_response": userResponse,
			}
			if agent != "" {
				doc["context"] = map[string]any{
					"agent":      agent,
					"domain":     domain,
					"action":     action,
					"session_id": sessionID,
					"tenant_id":  tenantID,
				}
			}
			d, err := model.GateDecisionFromMap(doc)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			return g.withRepo(cmd.Context(), func(ctx context.Context, cfg config.Config, repo storage.Repository, logger *slog.Logger) error {
				id, err := newEvaluator(cfg, repo, logger).LogDecision(ctx, d)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), model.DecisionResponse{ID: id})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&guidelineID, "guideline-id", "", "gate guideline id")
	f.StringVar(&gateType, "gate-type", "", "gate type")
	f.StringVar(&result, "result", "", "approved, rejected or skipped")
	f.StringVar(&reason, "reason", "", "why the decision was made")
	f.StringVar(&userResponse, "user-response", "", "verbatim user response")
	f.StringVar(&agent, "agent", "", "agent the gate fired for (enables context fields)")
	f.StringVar(&domain, "domain", "", "task domain")
	f.StringVar(&action, "action", "", "task action")
	f.StringVar(&sessionID, "session-id", "", "agent session id")
	f.StringVar(&tenantID, "tenant-id", "", "tenant id")
	_ = cmd.MarkFlagRequired("guideline-id")
	_ = cmd.MarkFlagRequired("gate-type")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func seedCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in default guidelines that do not exist yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRepo(cmd.Context(), func(ctx context.Context, _ config.Config, repo storage.Repository, logger *slog.Logger) error {
				res, err := seed.Seed(ctx, repo, logger)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func tokenCmd(g *globals) *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if cfg.JWTPrivateKeyPath == "" || cfg.JWTPublicKeyPath == "" {
				return errors.New("GUIDELINES_JWT_PRIVATE_KEY and GUIDELINES_JWT_PUBLIC_KEY are required; an ephemeral key would mint tokens no server accepts")
			}
			mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
			if err != nil {
				return err
			}
			token, expiresAt, err := mgr.IssueToken(subject, auth.Role(role))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.TokenResponse{Token: token, ExpiresAt: expiresAt})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded as the audit actor")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleReader), "admin, editor or reader")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func keygenCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a persistent Ed25519 key pair for token signing",
		Long: `Writes jwt_private.pem and jwt_public.pem into --dir. Point
GUIDELINES_JWT_PRIVATE_KEY and GUIDELINES_JWT_PUBLIC_KEY at them so tokens
survive server restarts. Existing key files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privPath := filepath.Join(dir, "jwt_private.pem")
			pubPath := filepath.Join(dir, "jwt_public.pem")
			if err := auth.WriteKeyPair(privPath, pubPath); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), keygenOutput{PrivateKey: privPath, PublicKey: pubPath})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory for the key files")
	return cmd
}

type keygenOutput struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

func getCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one guideline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRepo(cmd.Context(), func(ctx context.Context, _ config.Config, repo storage.Repository, _ *slog.Logger) error {
				gl, err := repo.GetGuideline(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), gl)
			})
		},
	}
}

func listCmd(g *globals) *cobra.Command {
	var category, enabled string
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guidelines, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := storage.GuidelineFilter{Page: page, PageSize: pageSize}
			if category != "" {
				c, err := model.ParseCategory(category)
				if err != nil {
					return fmt.Errorf("%w: %v", errUsage, err)
				}
				f.Category = &c
			}
			if enabled != "" {
				b, err := strconv.ParseBool(enabled)
				if err != nil {
					return fmt.Errorf("%w: --enabled must be true or false", errUsage)
				}
				f.Enabled = &b
			}
			return g.withRepo(cmd.Context(), func(ctx context.Context, _ config.Config, repo storage.Repository, _ *slog.Logger) error {
				gs, total, err := repo.ListGuidelines(ctx, f)
				if err != nil {
					return err
				}
				if gs == nil {
					gs = []model.Guideline{}
				}
				n := f.Normalize()
				return printJSON(cmd.OutOrStdout(), listOutput{
					Data:     gs,
					Total:    total,
					HasMore:  n.Offset()+len(gs) < total,
					Page:     n.Page,
					PageSize: n.PageSize,
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&category, "category", "", "filter by category")
	f.StringVar(&enabled, "enabled", "", "filter by enabled state (true or false)")
	f.IntVar(&page, "page", 1, "1-based page number")
	f.IntVar(&pageSize, "page-size", storage.DefaultGuidelinePageSize, "page size")
	return cmd
}

type listOutput struct {
	Data     []model.Guideline `json:"data"`
	Total    int               `json:"total"`
	HasMore  bool              `json:"has_more"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
