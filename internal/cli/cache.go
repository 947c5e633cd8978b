package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/wheelhouse/pkg/artifactcache"
)

// newCacheCmd creates the cache management command covering both
// on-disk stores: downloaded artifacts and cached index responses.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact and HTTP response caches",
	}

	cmd.AddCommand(newCacheInfoCmd())
	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCachePathCmd())

	return cmd
}

// newCacheInfoCmd creates the "cache info" subcommand.
func newCacheInfoCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show cache locations and sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := artifactcache.New(dir)
			if err != nil {
				return err
			}
			bytes, count, err := store.Size()
			if err != nil {
				return err
			}
			printInfo("Artifact cache")
			printDetail("Directory: %s", store.Root())
			printDetail("Entries:   %d (%s)", count, humanBytes(bytes))

			httpDir, err := httpCacheDir()
			if err != nil {
				return err
			}
			printInfo("HTTP response cache")
			printDetail("Directory: %s", httpDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "cache-dir", "", "artifact cache directory (default: per-user cache)")
	return cmd
}

// newCacheClearCmd creates the "cache clear" subcommand.
func newCacheClearCmd() *cobra.Command {
	var dir string
	var artifactsOnly bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached artifacts and HTTP responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := artifactcache.New(dir)
			if err != nil {
				return err
			}
			_, count, err := store.Size()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			printSuccess("Cleared %d cached artifacts", count)
			printDetail("Directory: %s", store.Root())

			if artifactsOnly {
				return nil
			}
			httpDir, err := httpCacheDir()
			if err != nil {
				return err
			}
			if err := os.RemoveAll(httpDir); err != nil {
				return err
			}
			printSuccess("Cleared HTTP response cache")
			printDetail("Directory: %s", httpDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "cache-dir", "", "artifact cache directory (default: per-user cache)")
	cmd.Flags().BoolVar(&artifactsOnly, "artifacts-only", false, "keep the HTTP response cache")
	return cmd
}

// newCachePathCmd creates the "cache path" subcommand.
func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the artifact cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := artifactcache.DefaultDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// humanBytes formats a byte count for display.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
