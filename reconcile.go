package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and repair payments that have no confirmed order",
	}
	cmd.AddCommand(reconcileListCmd())
	cmd.AddCommand(reconcileRetryCmd())
	return cmd
}

func reconcileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List attempts in persist_failed or unknown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDomain(cmd.Context(), func(ctx context.Context, d *domain) error {
				attempts, err := d.checkout.ListReconciliation(ctx)
				if err != nil {
					return err
				}
				return printAttempts(cmd.OutOrStdout(), attempts)
			})
		},
	}
}

func reconcileRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <reconciliation-token>",
		Short: "Save the order for a captured payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDomain(cmd.Context(), func(ctx context.Context, d *domain) error {
				order, err := d.checkout.RetryPersist(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order %d %s total %s\n", order.ID, order.Status, order.TotalPrice.StringFixed(2))
				return nil
			})
		},
	}
}

func withDomain(ctx context.Context, fn func(context.Context, *domain) error) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.buildDomain(ctx))
}

func printAttempts(w io.Writer, attempts []models.PaymentAttempt) error {
	table := tablewriter.NewWriter(w)
	table.Header("Token", "Flow", "Status", "User", "Amount", "Gateway Ref", "Reason")
	for _, at := range attempts {
		ref := "-"
		if at.GatewayRef != nil {
			ref = *at.GatewayRef
		}
		err := table.Append(
			at.AttemptKey,
			string(at.Flow),
			string(at.Status),
			strconv.FormatUint(uint64(at.UserID), 10),
			models.FromMinorUnits(at.AmountMinor).StringFixed(2)+" "+at.Currency,
			ref,
			at.FailureReason,
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}
