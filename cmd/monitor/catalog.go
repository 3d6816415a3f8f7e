package main

import (
	"fmt"
	"io"
	"slices"

	"melonbooks-monitor/internal/models"
	"melonbooks-monitor/internal/scraper"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func addSiteFlag(cmd *cobra.Command, site *string) {
	cmd.Flags().StringVar(site, "site", scraper.MelonbooksSite, "site the command applies to")
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(header)
	return t
}

func newArtistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artist",
		Short: "Manage watched artists",
	}
	cmd.AddCommand(newArtistAddCmd(), newArtistRemoveCmd(), newArtistListCmd())
	return cmd
}

func newArtistAddCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "add <name>...",
		Short: "Watch artists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.checkSite(site); err != nil {
				return err
			}

			if err := d.db.AddArtists(cmd.Context(), site, args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %d artist(s) on %s\n", len(args), site)
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	return cmd
}

func newArtistRemoveCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop watching an artist and delete its products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.checkSite(site); err != nil {
				return err
			}

			if err := d.db.RemoveArtist(cmd.Context(), site, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], site)
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	return cmd
}

func newArtistListCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List watched artists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			artists, err := d.db.GetArtists(cmd.Context(), site)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Artist"})
			for _, a := range artists {
				t.AppendRow(table.Row{a})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d artist(s)", len(artists))})
			t.Render()
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	return cmd
}

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Inspect the product catalog",
	}
	cmd.AddCommand(newProductsListCmd())
	return cmd
}

func newProductsListCmd() *cobra.Command {
	var (
		site   string
		states []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored products, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseAvailabilities(states)
			if err != nil {
				return err
			}

			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			products, err := d.db.GetProducts(cmd.Context(), site)
			if err != nil {
				return err
			}
			renderProducts(cmd.OutOrStdout(), products, filter)
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	cmd.Flags().StringSliceVar(&states, "availability", nil, "only show products in these stock states")
	return cmd
}

func renderProducts(w io.Writer, products []models.Product, filter []models.Availability) {
	t := newTable(w, table.Row{"Added", "Availability", "Artist", "Title", "URL"})
	n := 0
	for _, p := range products {
		if len(filter) > 0 && !slices.Contains(filter, p.Availability) {
			continue
		}
		t.AppendRow(table.Row{p.DateAdded.Format("2006-01-02"), p.Availability, p.AssociatedArtist, p.Title, p.URL})
		n++
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d product(s)", n), ""})
	t.Render()
}

func newSkipTitleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip-title",
		Short: "Manage title filters that silence restock notifications",
	}
	cmd.AddCommand(newSkipTitleAddCmd(), newSkipTitleListCmd())
	return cmd
}

func newSkipTitleAddCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "add <artist> <sequence>",
		Short: "Silence restocks of an artist's products whose title contains sequence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.checkSite(site); err != nil {
				return err
			}

			if err := d.db.AddTitleSkipSequence(cmd.Context(), args[0], site, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skipping restocks of %s titled %q on %s\n", args[0], args[1], site)
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	return cmd
}

func newSkipTitleListCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List title filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			seqs, err := d.db.ListTitleSkipSequences(cmd.Context(), site)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Artist", "Sequence"})
			for _, s := range seqs {
				t.AppendRow(table.Row{s.Artist, s.Sequence})
			}
			t.Render()
			return nil
		},
	}
	addSiteFlag(cmd, &site)
	return cmd
}
