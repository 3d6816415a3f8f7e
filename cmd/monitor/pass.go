package main

import (
	"fmt"

	"melonbooks-monitor/internal/models"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Refresh known products, then discover new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			m, err := d.passMonitor()
			if err != nil {
				return err
			}
			return m.Run(cmd.Context())
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	var alsoUnavailable bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search every watched artist for products not in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			m, err := d.passMonitor()
			if err != nil {
				return err
			}
			return m.DiscoverAll(cmd.Context(), alsoUnavailable)
		},
	}
	cmd.Flags().BoolVar(&alsoUnavailable, "also-unavailable", false, "also add products that are sold out (skips the restock check)")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-check the stock state of stored products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tracked, err := parseAvailabilities(states)
			if err != nil {
				return err
			}

			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			m, err := d.passMonitor()
			if err != nil {
				return err
			}
			return m.RefreshAll(cmd.Context(), tracked)
		},
	}
	cmd.Flags().StringSliceVar(&states, "availability", availabilityNames(models.DefaultTrackedTypes), "stock states to re-check")
	return cmd
}

func parseAvailabilities(names []string) ([]models.Availability, error) {
	out := make([]models.Availability, 0, len(names))
	for _, n := range names {
		a, err := models.ParseAvailability(n)
		if err != nil {
			return nil, fmt.Errorf("--availability: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func availabilityNames(states []models.Availability) []string {
	out := make([]string, 0, len(states))
	for _, a := range states {
		out = append(out, a.String())
	}
	return out
}
