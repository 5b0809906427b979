package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/internal/app"
	"github.com/mnemolabs/mnemo/internal/memory"
)

var (
	memTenant     string
	memScope      string
	memTier       string
	memKind       string
	memImportance float64
	memTopN       int
	memLimit      int
)

func init() {
	for _, c := range []*cobra.Command{rememberCmd, recallCmd, listCmd, forgetCmd, contradictionsCmd, resolveCmd} {
		c.Flags().StringVar(&memTenant, "tenant", "", "tenant ID (required)")
		_ = c.MarkFlagRequired("tenant")
		rootCmd.AddCommand(c)
	}

	rememberCmd.Flags().StringVar(&memScope, "scope", "default", "conversation scope ID")
	rememberCmd.Flags().StringVar(&memTier, "tier", "medium", "retention tier: short, medium, or long")
	rememberCmd.Flags().StringVar(&memKind, "kind", "unknown", "record kind (fact, preference, ...)")
	rememberCmd.Flags().Float64Var(&memImportance, "importance", 0.5, "importance in [0,1]")

	recallCmd.Flags().StringVar(&memScope, "scope", "default", "conversation scope ID")
	recallCmd.Flags().IntVar(&memTopN, "top", 5, "maximum results")

	listCmd.Flags().StringVar(&memTier, "tier", "medium", "retention tier")
	listCmd.Flags().IntVar(&memLimit, "limit", 20, "maximum rows")

	contradictionsCmd.Flags().IntVar(&memLimit, "limit", 20, "maximum rows")
}

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			id, err := a.Store.Write(ctx, &memory.Record{
				TenantID:   memTenant,
				ScopeID:    memScope,
				Tier:       memory.Tier(memTier),
				Kind:       memory.Kind(memKind),
				Content:    args[0],
				Importance: memImportance,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Retrieve relevant memories for a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			records, err := a.Ranker.Retrieve(ctx, memTenant, memScope, args[0], memTopN)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%.3f  [%s/%s]  %s\n", rec.Score, rec.Tier, rec.Kind, rec.Content)
			}
			if len(records) == 0 {
				fmt.Println("no matching memories")
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active memories in a tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			records, err := a.Store.List(ctx, memTenant, memory.Tier(memTier), memLimit, 0)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%s  imp=%.2f  [%s]  %s\n", rec.ID, rec.Importance, rec.Kind, rec.Content)
			}
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>...",
	Short: "Delete memory records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			n, err := a.Store.BatchDelete(ctx, memTenant, ids)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d record(s)\n", n)
			return nil
		})
	},
}

var contradictionsCmd = &cobra.Command{
	Use:   "contradictions",
	Short: "List unresolved contradictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			found, err := a.Detector.Unresolved(ctx, memTenant, memLimit)
			if err != nil {
				return err
			}
			for _, c := range found {
				fmt.Printf("%s  %s  conf=%.2f  %s vs %s\n    %s\n",
					c.ID, c.Kind, c.Confidence, c.RecordAID, c.RecordBID, c.Explanation)
			}
			if len(found) == 0 {
				fmt.Println("no unresolved contradictions")
			}
			return nil
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <contradiction-id> <kept_a|kept_b|kept_both|deleted_both>",
	Short: "Resolve a contradiction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		resolution := memory.Resolution(strings.ToLower(args[1]))
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Detector.Resolve(ctx, memTenant, id, resolution); err != nil {
				return err
			}
			fmt.Println("resolved")
			return nil
		})
	},
}
