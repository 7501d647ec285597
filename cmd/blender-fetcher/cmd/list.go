package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/api"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/database"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/reconcile"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("sort", "s", "version", "Sort column (version, status, branch, risk, hash, size, time)")
	listCmd.Flags().BoolP("desc", "d", false, "Sort in descending order")
	listCmd.Flags().BoolP("local-only", "l", false, "Skip the online catalog, list installed builds only")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed builds and available daily builds",
	Long: `Scans the download directory for installed builds, fetches the daily
build catalog for this platform and prints one merged row per version.
Installed builds with a newer build available online are marked Update.`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	sortFlag, _ := cmd.Flags().GetString("sort")
	descFlag, _ := cmd.Flags().GetBool("desc")
	localOnly, _ := cmd.Flags().GetBool("local-only")

	key, ok := reconcile.ParseKey(sortFlag)
	if !ok {
		return fmt.Errorf("unknown sort column %q", sortFlag)
	}

	reg := registry.New(globalConfig.DownloadPath)
	local, err := reg.Scan()
	if err != nil {
		return fmt.Errorf("scanning %s: %w", globalConfig.DownloadPath, err)
	}

	var remote []models.RemoteBuild
	if !localOnly {
		remote = fetchCatalog()
	}

	records := reconcile.Merge(local, remote)
	if len(records) == 0 {
		if localOnly {
			fmt.Println("No builds installed.")
		} else {
			fmt.Println("No builds installed and no daily builds available.")
		}
		return nil
	}

	// Hash and size only exist for rows the catalog knows about; fall back
	// toward the version column when every row is local-only.
	key = reconcile.Normalize(key, func(k reconcile.SortKey) bool {
		for _, r := range records {
			switch k {
			case reconcile.KeyHash:
				if r.Hash != "" {
					return true
				}
			case reconcile.KeySize:
				if r.SizeMB > 0 {
					return true
				}
			default:
				return true
			}
		}
		return false
	})
	reconcile.Sort(records, key, descFlag)

	printRecords(records, local)
	return nil
}

// fetchCatalog fetches the remote catalog, tolerating failure: an offline
// machine still gets its local listing.
func fetchCatalog() []models.RemoteBuild {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.FetchTimeoutSec) * time.Second,
	}
	client := api.NewClient(httpClient, globalConfig)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(globalConfig.FetchTimeoutSec)*time.Second)
	defer cancel()

	remote, err := client.FetchBuilds(ctx, globalConfig.VersionCutoff)
	if err != nil {
		log.WithError(err).Warn("Could not fetch the daily build catalog, listing installed builds only")
		return nil
	}
	return remote
}

func printRecords(records []models.UnifiedRecord, local map[string]models.LocalBuild) {
	sel := reconcile.NewSelection()
	sel.AssignOrdinals(localVersions(local))
	downloaded := downloadDates(historyEntries())

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tVERSION\tSTATUS\tBRANCH\tRISK\tHASH\tSIZE\tBUILD TIME\tDOWNLOADED")
	for _, r := range records {
		ord := "-"
		if n := sel.Ordinal(r.Version); n > 0 {
			ord = fmt.Sprintf("%d", n)
		}
		size := "-"
		if r.SizeMB > 0 {
			size = fmt.Sprintf("%.1f MB", r.SizeMB)
		}
		hash := r.Hash
		if hash == "" {
			hash = "-"
		}
		buildTime := "-"
		if t := reconcile.ParseSortTime(r.SortTime); !t.IsZero() {
			buildTime = t.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ord, r.Version, r.Status(), orDash(r.Branch), orDash(r.RiskID), hash, size, buildTime,
			orDash(downloaded[r.Version]))
	}
	if err := w.Flush(); err != nil {
		log.WithError(err).Warn("Could not flush listing output")
	}
}

// historyEntries reads the download history, best-effort: a missing or
// unopenable store just leaves the column blank.
func historyEntries() []models.HistoryEntry {
	history, err := database.Open(globalConfig.HistoryPath)
	if err != nil {
		log.WithError(err).Debug("Could not open the download history store")
		return nil
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.WithError(err).Debug("Could not close the download history store")
		}
	}()

	entries, err := history.List()
	if err != nil {
		log.WithError(err).Debug("Could not read the download history")
		return nil
	}
	return entries
}

// downloadDates maps each version to its recorded download time, formatted
// for the listing.
func downloadDates(entries []models.HistoryEntry) map[string]string {
	dates := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Version == "" || e.CompletedAt == 0 {
			continue
		}
		dates[e.Version] = time.Unix(e.CompletedAt, 0).Format("2006-01-02 15:04")
	}
	return dates
}

func localVersions(local map[string]models.LocalBuild) []string {
	versions := make([]string, 0, len(local))
	for v := range local {
		versions = append(versions, v)
	}
	return versions
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
