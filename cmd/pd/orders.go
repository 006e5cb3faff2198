package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zulandar/pedidos/internal/config"
	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

func newOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect the order book offline",
		Long:  "Reads the JSON snapshot directly, without connecting to any chat platform.",
	}

	cmd.AddCommand(newOrdersListCmd())
	cmd.AddCommand(newOrdersShowCmd())
	cmd.AddCommand(newOrdersStatsCmd())
	return cmd
}

// loadStore restores an order book from the configured snapshot.
func loadStore(configPath string) (*orders.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	mgr, err := storage.NewManager(storage.ManagerOpts{
		Dir:       cfg.Storage.Dir,
		Retention: cfg.Storage.BackupRetention,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		return nil, err
	}

	snap, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	store := orders.NewStore(orders.StoreOpts{})
	store.Restore(snap)
	return store, nil
}

func newOrdersListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrdersList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pedidos.yaml", "path to config file")
	return cmd
}

func runOrdersList(cmd *cobra.Command, configPath string) error {
	store, err := loadStore(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	active := store.ListActive()
	if len(active) == 0 {
		fmt.Fprintln(out, "No active orders.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tCUSTOMER\tSTATUS\tUPDATED")
	for _, o := range active {
		customer := o.CustomerName
		if customer == "" {
			customer = "-"
		}
		fmt.Fprintf(w, "#%s\t%s\t%s\t%s\t%s\n",
			o.ID, truncate(o.Description, 40), customer, o.Status,
			o.UpdatedAt.Format("02/01/2006 15:04"))
	}
	w.Flush()
	return nil
}

func newOrdersShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show order details",
		Long:  "Displays full details of an order including its status history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrdersShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pedidos.yaml", "path to config file")
	return cmd
}

func runOrdersShow(cmd *cobra.Command, configPath, id string) error {
	store, err := loadStore(configPath)
	if err != nil {
		return err
	}

	o, err := store.Get(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          #%s\n", o.ID)
	fmt.Fprintf(out, "Description: %s\n", o.Description)
	if o.CustomerName != "" {
		fmt.Fprintf(out, "Customer:    %s\n", o.CustomerName)
	}
	if o.CustomerContact != "" {
		fmt.Fprintf(out, "Contact:     %s\n", o.CustomerContact)
	}
	fmt.Fprintf(out, "Status:      %s\n", o.Status)
	fmt.Fprintf(out, "Created:     %s\n", o.CreatedAt.Format("02/01/2006 15:04"))
	fmt.Fprintf(out, "Updated:     %s\n", o.UpdatedAt.Format("02/01/2006 15:04"))

	if len(o.History) > 0 {
		fmt.Fprintln(out, "\nHistory:")
		for _, h := range o.History {
			fmt.Fprintf(out, "  %s  %-12s %s\n",
				h.At.Format("02/01/2006 15:04"), h.Status, h.Actor)
		}
	}
	return nil
}

func newOrdersStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show order book totals by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrdersStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pedidos.yaml", "path to config file")
	return cmd
}

func runOrdersStats(cmd *cobra.Command, configPath string) error {
	store, err := loadStore(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total orders:  %d\n", store.TotalCount())
	fmt.Fprintf(out, "Active orders: %d\n", store.ActiveCount())

	hist := store.StatusHistogram()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTATUS\tCOUNT")
	for _, status := range orders.AllStatuses {
		if n := hist[status]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", status, n)
		}
	}
	w.Flush()
	return nil
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
