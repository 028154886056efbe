package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"payment-failure-alerts/internal/app"
)

var (
	showLimit  int
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent failures or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show fired alerts instead of raw failures")
}
