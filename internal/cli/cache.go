package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/habitfeed/internal/store"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Path string // overrides cache.path
}

// CacheStats is the result of `cache stats`.
type CacheStats struct {
	Path    string     `json:"path"`
	Entries int        `json:"entries"`
	Expired int        `json:"expired"`
	Bytes   int64      `json:"bytes"`
	Oldest  *time.Time `json:"oldest,omitempty"`
}

// PruneResult is the result of `cache prune`.
type PruneResult struct {
	Path    string `json:"path"`
	Removed int64  `json:"removed"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the SQLite page cache",
		Long: `Inspect and maintain the SQLite file that keeps the last known feed pages
for offline warm starts. The file is cache.path from the configuration
(HABITFEED_CACHE_PATH) unless --path is given.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "cache database (default cache.path)")

	cmd.AddCommand(&cobra.Command{
		Use:           "stats",
		Short:         "Show how many pages the cache holds",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "prune",
		Short:         "Delete expired pages",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePrune(opts, cmd)
		},
	})

	return cmd
}

func (o *CacheOptions) open() (*store.Store, string, error) {
	path := o.Path
	if path == "" && o.Config != nil {
		path = o.Config.Cache.Path
	}
	if path == "" {
		return nil, "", NewExitError(ExitCommandError, "no cache configured: set cache.path or pass --path")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	return st, path, nil
}

func runCacheStats(opts *CacheOptions, cmd *cobra.Command) error {
	st, path, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	stats, err := st.Stats(cmd.Context(), now)
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}

	result := CacheStats{
		Path:    path,
		Entries: stats.Entries,
		Expired: stats.Expired,
		Bytes:   stats.Bytes,
	}
	if !stats.Oldest.IsZero() {
		result.Oldest = &stats.Oldest
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Cache: %s\n", path)
	fmt.Fprintf(w, "  Pages:   %s (%s expired)\n", humanize.Comma(int64(stats.Entries)), humanize.Comma(int64(stats.Expired)))
	fmt.Fprintf(w, "  Size:    %s\n", humanize.Bytes(uint64(stats.Bytes)))
	if result.Oldest != nil {
		fmt.Fprintf(w, "  Oldest:  %s\n", humanize.RelTime(stats.Oldest, now, "ago", "from now"))
	}
	return nil
}

func runCachePrune(opts *CacheOptions, cmd *cobra.Command) error {
	st, path, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.Prune(cmd.Context(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return f.Success(PruneResult{Path: path, Removed: removed})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s expired page(s) from %s\n", humanize.Comma(removed), path)
	return nil
}
