package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldfront/coldfront/internal/archive"
	"github.com/coldfront/coldfront/internal/record"
)

func newCreateCmd() *cobra.Command {
	var (
		customer    string
		amount      float64
		currency    string
		status      string
		description string
		dueIn       string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a billing record in the live tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := time.ParseDuration(dueIn)
			if err != nil {
				return fmt.Errorf("invalid --due-in: %w", err)
			}
			return withService(func(svc *archive.Service) error {
				rec, err := svc.CreateRecord(cmd.Context(), &record.Billing{
					CustomerID:  customer,
					Amount:      amount,
					Currency:    currency,
					Status:      record.Status(status),
					Description: description,
					DueDate:     time.Now().UTC().Add(due),
				})
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer identifier")
	cmd.Flags().Float64Var(&amount, "amount", 0, "billing amount")
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency code")
	cmd.Flags().StringVar(&status, "status", string(record.StatusPending), "billing status")
	cmd.Flags().StringVar(&description, "description", "", "billing description")
	cmd.Flags().StringVar(&dueIn, "due-in", "720h", "time until payment is due")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}
