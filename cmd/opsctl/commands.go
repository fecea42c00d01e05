package main

import (
	"fmt"
	"time"

	"commerce/internal/app"
	"commerce/internal/domain/model"
	"commerce/internal/infra/events"
	"commerce/internal/middleware"
	repo "commerce/internal/repository"
	"commerce/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func reconcileCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Settle PENDING orders older than RECONCILE_PENDING_AGE (one batch)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			report, err := a.Reconcile.SweepStalePending(cmd.Context())
			if err != nil {
				return err
			}
			return e.printJSON(report)
		},
	}
}

func orderCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and update orders",
	}

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one order with items and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			o, err := a.Orders.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.printJSON(o)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := orderFilter(cmd)
			if err != nil {
				return err
			}
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			orders, err := a.Orders.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return e.printJSON(orders)
		},
	}
	addOrderFilterFlags(list)
	list.Flags().Int("limit", 50, "Maximum results")
	list.Flags().Int("offset", 0, "Results to skip")

	status := &cobra.Command{
		Use:   "status [id] [status]",
		Short: "Move an order to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			note, _ := cmd.Flags().GetString("note")
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			o, err := a.Orders.Transition(cmd.Context(), args[0], model.OrderStatus(args[1]), note)
			if err != nil {
				return err
			}
			return e.printJSON(o)
		},
	}
	status.Flags().String("note", "", "History note")

	refund := &cobra.Command{
		Use:   "refund [id]",
		Short: "Refund an order (the whole remaining balance unless --amount is set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := amountFlag(cmd)
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			o, err := a.Orders.Refund(cmd.Context(), args[0], amount, reason)
			if err != nil {
				return err
			}
			return e.printJSON(o)
		},
	}
	refund.Flags().String("amount", "", "Refund amount, e.g. 10.00")
	refund.Flags().String("reason", "", "Refund reason")

	cmd.AddCommand(get, list, status, refund)
	return cmd
}

func paymentCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Inspect payments",
	}

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one payment with refunds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			p, err := a.Payments.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.printJSON(p)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List payments, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, _ := cmd.Flags().GetString("order")
			status, _ := cmd.Flags().GetString("status")
			method, _ := cmd.Flags().GetString("method")
			limit, _ := cmd.Flags().GetInt("limit")
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			payments, err := a.Payments.List(cmd.Context(), repo.PaymentListFilter{
				OrderID: orderID,
				Status:  model.PaymentStatus(status),
				Method:  model.PaymentMethod(method),
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			return e.printJSON(payments)
		},
	}
	list.Flags().String("order", "", "Order id")
	list.Flags().String("status", "", "Payment status")
	list.Flags().String("method", "", "Payment method")
	list.Flags().Int("limit", 50, "Maximum results")

	cmd.AddCommand(get, list)
	return cmd
}

func statsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Order and payment statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := orderFilter(cmd)
			if err != nil {
				return err
			}
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			orders, err := a.Orders.Stats(cmd.Context(), f)
			if err != nil {
				return err
			}
			payments, err := a.Payments.Stats(cmd.Context(), repo.PaymentListFilter{From: f.From, To: f.To})
			if err != nil {
				return err
			}
			top, err := cmd.Flags().GetInt("top")
			if err != nil {
				return err
			}
			return e.printJSON(map[string]any{
				"orders":          orders,
				"payments":        payments,
				"top_product_ids": orders.TopProductIDs(top),
			})
		},
	}
	addOrderFilterFlags(cmd)
	cmd.Flags().Int("top", 5, "number of top products by revenue (0 = all)")
	return cmd
}

func outboxCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Domain event outbox",
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Publish one batch of unpublished events to EVENT_PUBLISHER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			publisher, err := app.OpenPublisher(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = publisher.Close() }()

			n, err := events.NewRelay(a.Stores.Events, publisher, usecase.SystemClock(), e.logger).RelayOnce(cmd.Context())
			if err != nil {
				return err
			}
			return e.printJSON(map[string]int{"published": n})
		},
	}

	cmd.AddCommand(flush)
	return cmd
}

func tokenCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if session == "" {
				return fmt.Errorf("--session is required")
			}
			r := model.Role(role)
			if r != model.RoleUser && r != model.RoleAdmin {
				return fmt.Errorf("--role must be USER or ADMIN")
			}

			tok, exp, err := middleware.IssueToken(e.cfg.JWTSecret, session, r, time.Now(), ttl)
			if err != nil {
				return err
			}
			return e.printJSON(map[string]any{"access_token": tok, "expires_at": exp})
		},
	}
	cmd.Flags().String("session", "", "Session id (token subject)")
	cmd.Flags().String("role", string(model.RoleUser), "USER or ADMIN")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

// =====================
// Flags
// =====================

func addOrderFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("status", "", "Order status")
	cmd.Flags().String("payment-status", "", "Order payment status")
	cmd.Flags().String("session", "", "Session id")
	cmd.Flags().String("from", "", "Created at or after (RFC3339)")
	cmd.Flags().String("to", "", "Created at or before (RFC3339)")
}

func orderFilter(cmd *cobra.Command) (repo.OrderListFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	paymentStatus, _ := cmd.Flags().GetString("payment-status")
	session, _ := cmd.Flags().GetString("session")

	f := repo.OrderListFilter{
		Status:        model.OrderStatus(status),
		PaymentStatus: model.OrderPaymentStatus(paymentStatus),
		SessionID:     session,
	}
	if cmd.Flags().Lookup("limit") != nil {
		f.Limit, _ = cmd.Flags().GetInt("limit")
		f.Offset, _ = cmd.Flags().GetInt("offset")
	}

	var err error
	if f.From, err = timeFlag(cmd, "from"); err != nil {
		return repo.OrderListFilter{}, err
	}
	if f.To, err = timeFlag(cmd, "to"); err != nil {
		return repo.OrderListFilter{}, err
	}
	return f, nil
}

func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC3339: %w", name, err)
	}
	return &t, nil
}

func amountFlag(cmd *cobra.Command) (*decimal.Decimal, error) {
	v, _ := cmd.Flags().GetString("amount")
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("--amount must be a decimal: %w", err)
	}
	return &d, nil
}
