package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/anqxyr/pyscp/internal/snapshot"
	"github.com/anqxyr/pyscp/internal/wiki"
)

func pagesCmd(flags *rootFlags) *cobra.Command {
	var (
		author        string
		tag           string
		createdBefore string
		createdAfter  string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List pages stored in a snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			filter := wiki.ListFilter{Author: author, Tag: tag}
			if createdBefore != "" {
				t, err := time.Parse("2006-01-02", createdBefore)
				if err != nil {
					return fmt.Errorf("bad --created-before: %w", err)
				}
				filter.CreatedBefore = t
			}
			if createdAfter != "" {
				t, err := time.Parse("2006-01-02", createdAfter)
				if err != nil {
					return fmt.Errorf("bad --created-after: %w", err)
				}
				filter.CreatedAfter = t
			}

			reader, err := snapshot.OpenReader(cfg.Snapshot.Path)
			if err != nil {
				return err
			}
			defer func() { _ = reader.Close() }()

			pages, err := reader.ListPages(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(pages)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "URL\tTITLE\tAUTHOR\tCREATED\tRATING")
			for _, p := range pages {
				rating := "-"
				if p.Rating != nil {
					rating = fmt.Sprintf("%+d", *p.Rating)
				}
				created := ""
				if !p.Created.IsZero() {
					created = p.Created.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.URL, p.Title, p.Author, created, rating)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "only pages created by this user")
	cmd.Flags().StringVar(&tag, "tag", "", "only pages carrying this tag")
	cmd.Flags().StringVar(&createdBefore, "created-before", "", "only pages created before this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&createdAfter, "created-after", "", "only pages created after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}
