package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iliyamo/vcpool/internal/app"
	"github.com/iliyamo/vcpool/internal/model"
	"github.com/iliyamo/vcpool/internal/service"
)

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect and administer pools",
	}
	cmd.AddCommand(poolListCmd())
	cmd.AddCommand(poolCreateCmd())
	cmd.AddCommand(poolActionCmd("publish", "Open a complete draft for reservations",
		func(s *service.PoolRegistry) poolAction { return s.Publish }))
	cmd.AddCommand(poolActionCmd("start", "Activate a pool with verified members",
		func(s *service.PoolRegistry) poolAction { return s.Start }))
	cmd.AddCommand(poolActionCmd("complete", "Close an active pool",
		func(s *service.PoolRegistry) poolAction { return s.Complete }))
	cmd.AddCommand(poolActionCmd("cancel", "Abort an active pool",
		func(s *service.PoolRegistry) poolAction { return s.Cancel }))
	return cmd
}

type poolAction func(ctx context.Context, id int64) (*model.Pool, error)

func poolListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pools with their seat counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				filter := make([]model.PoolStatus, 0, len(statuses))
				for _, s := range statuses {
					filter = append(filter, model.PoolStatus(s))
				}
				views, err := a.Services.Pools.List(ctx, filter...)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-6s %-10s %-8s %-9s %-14s %s\n", "ID", "STATUS", "SEATS", "MEMBERS", "INVESTED", "NAME")
				for _, v := range views {
					fmt.Fprintf(w, "%-6d %-10s %-8s %-9d %-14s %s\n",
						v.ID, v.Status,
						fmt.Sprintf("%d/%d", v.MaxMembers-v.AvailableSeats, v.MaxMembers),
						v.VerifiedMembers, v.TotalInvested.String()+" "+v.CoinType, v.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by status (draft, open, full, active, completed, cancelled)")
	return cmd
}

func poolCreateCmd() *cobra.Command {
	var (
		in           service.DraftInput
		contribution string
		fee          string
		adminID      int64
		publish      bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft pool",
		Long: `Create a draft pool and optionally publish it.

Examples:
  vcpoolctl pool create --name "Seed I" --max-members 10 --contribution 5000 \
    --coin USDT --fee 2.5 --window 30 --address TXa1... --publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.ContributionAmount, err = decimal.NewFromString(contribution); err != nil {
				return fmt.Errorf("invalid --contribution: %w", err)
			}
			if in.PoolFeePercent, err = decimal.NewFromString(fee); err != nil {
				return fmt.Errorf("invalid --fee: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := a.Services.Pools.CreateDraft(ctx, adminID, in)
				if err != nil {
					return err
				}
				if publish {
					id := p.ID
					if p, err = a.Services.Pools.Publish(ctx, id); err != nil {
						return fmt.Errorf("pool %d created as draft, publish failed: %w", id, err)
					}
				}
				return printJSON(cmd, p)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "pool name")
	f.IntVar(&in.MaxMembers, "max-members", 0, "seat capacity")
	f.StringVar(&contribution, "contribution", "0", "contribution per member")
	f.StringVar(&in.CoinType, "coin", "", "coin type, e.g. USDT")
	f.StringVar(&fee, "fee", "0", "pool fee in percent")
	f.IntVar(&in.PaymentWindowMinutes, "window", 30, "payment window in minutes")
	f.StringVar(&in.AdminSettlementAddress, "address", "", "settlement address for transfers")
	f.Int64Var(&adminID, "admin-id", 1, "admin user id recorded as creator")
	f.BoolVar(&publish, "publish", false, "publish right after creation")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func poolActionCmd(use, short string, pick func(*service.PoolRegistry) poolAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [pool-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid pool id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := pick(a.Services.Pools)(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
}
