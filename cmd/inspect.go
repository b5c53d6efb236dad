package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"invite-checkout/config"
	"invite-checkout/internal/notify"
	"invite-checkout/models"
	"invite-checkout/services"

	"github.com/spf13/cobra"
)

func newQuoteCmd(cfg *config.Config) *cobra.Command {
	var (
		tier    string
		table   bool
		parking bool
	)
	c := &cobra.Command{
		Use:   "quote",
		Short: "Print the price breakdown of a selection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := models.ParseTier(tier)
			if err != nil {
				return err
			}
			addOns := models.NewAddOnSet()
			if table {
				addOns = addOns.With(models.AddOnTable)
			}
			if parking {
				addOns = addOns.With(models.AddOnParking)
			}

			engine := services.NewPricingEngine(services.PriceListFromConfig(cfg))
			q, err := engine.ComputeTotal(models.Selection{Tier: t, AddOns: addOns}.Normalize())
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), q)
			return nil
		},
	}
	c.Flags().StringVar(&tier, "tier", string(models.TierSingle), "unitario, casal or camarote")
	c.Flags().BoolVar(&table, "table", false, "add a table")
	c.Flags().BoolVar(&parking, "parking", false, "add parking")
	return c
}

func printQuote(w io.Writer, q services.Quote) {
	fmt.Fprintf(w, "%-16s R$ %s\n", q.TierLabel, q.Base.StringFixed(2))
	for _, item := range q.AddOns {
		label := item.Label
		if item.Included {
			label += " (incluso)"
		}
		fmt.Fprintf(w, "%-16s R$ %s\n", label, item.Price.StringFixed(2))
	}
	fmt.Fprintf(w, "%-16s R$ %s\n", "Total", q.Total.StringFixed(2))
}

func newTablesCmd() *cobra.Command {
	var tier string
	c := &cobra.Command{
		Use:   "tables",
		Short: "Print the seating chart as a buyer of a tier sees it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := models.ParseTier(tier)
			if err != nil {
				return err
			}
			printChart(cmd.OutOrStdout(), services.Chart(t, models.NoTable))
			return nil
		},
	}
	c.Flags().StringVar(&tier, "tier", string(models.TierSingle), "unitario, casal or camarote")
	return c
}

var availabilityMarks = map[models.Availability]string{
	models.Available: " ",
	models.Reserved:  "x",
	models.BoxOnly:   "c",
}

func printChart(w io.Writer, sections []services.ChartSection) {
	for _, section := range sections {
		fmt.Fprintln(w, section.Name)
		for i, table := range section.Tables {
			fmt.Fprintf(w, "[%s%s]", table.ID, availabilityMarks[table.Availability])
			if (i+1)%section.Columns == 0 || i == len(section.Tables)-1 {
				fmt.Fprintln(w)
			} else {
				fmt.Fprint(w, " ")
			}
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 20))
	fmt.Fprintln(w, "x reservada  c camarote")
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <purchase-id>",
		Short: "Watch a purchase until its payment settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchStatus(ctx, cmd.OutOrStdout(), cfg, args[0])
		},
	}
}

func watchStatus(ctx context.Context, w io.Writer, cfg *config.Config, purchaseID string) error {
	log := newLogger(cfg)
	client := newPurchaseClient(cfg, log, nil)
	poller := newPoller(cfg, client, notify.Nop{}, nil, log)

	for u := range poller.Watch(ctx, services.WatchRequest{PurchaseID: purchaseID}) {
		if u.Err != nil {
			return u.Err
		}
		fmt.Fprintf(w, "#%d %s\n", u.Attempt, u.Result.Status)
	}
	return ctx.Err()
}
