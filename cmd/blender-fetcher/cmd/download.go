package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/api"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/database"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/pipeline"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/reconcile"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Bool("latest", false, "Download the newest build in the catalog")
	downloadCmd.Flags().Bool("updates", false, "Download updates for every installed build that has one")

	viper.BindPFlag("download.latest", downloadCmd.Flags().Lookup("latest"))
	viper.BindPFlag("download.updates", downloadCmd.Flags().Lookup("updates"))
}

var downloadCmd = &cobra.Command{
	Use:   "download [version]...",
	Short: "Download and unpack one or more daily builds",
	Long: `Downloads the named versions from the daily build catalog, unpacks each
verified archive into the download directory and records the result in
the download history. Versions are fetched concurrently; a failure in
one never aborts the others.`,
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	latest := viper.GetBool("download.latest")
	updates := viper.GetBool("download.updates")
	if len(args) == 0 && !latest && !updates {
		return fmt.Errorf("nothing to download: name at least one version, or pass --latest or --updates")
	}

	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.FetchTimeoutSec) * time.Second,
	}
	client := api.NewClient(httpClient, globalConfig)

	fetchCtx, cancelFetch := context.WithTimeout(context.Background(), time.Duration(globalConfig.FetchTimeoutSec)*time.Second)
	remote, err := client.FetchBuilds(fetchCtx, globalConfig.VersionCutoff)
	cancelFetch()
	if err != nil {
		return fmt.Errorf("fetching the daily build catalog: %w", err)
	}
	if len(remote) == 0 {
		return fmt.Errorf("the catalog lists no builds for this platform")
	}

	builds, err := selectBuilds(remote, args, latest, updates)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		fmt.Println("Everything is already up to date.")
		return nil
	}

	renderer := newProgressRenderer()
	p := pipeline.New(globalConfig.DownloadPath, confirmer(), renderer.update)

	// SIGINT aborts the batch without killing fetch children already
	// running; their archives are cleaned up on the next run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer.start()
	results, ok, err := p.DownloadMany(ctx, builds)
	renderer.stop()

	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("Download cancelled.")
		return nil
	}

	recordHistory(builds, results)
	reportResults(builds, results)

	if !ok {
		return fmt.Errorf("no build completed")
	}
	return nil
}

// selectBuilds maps the requested versions (or the --latest / --updates
// shorthands) onto catalog entries. Unknown versions are an error.
func selectBuilds(remote []models.RemoteBuild, versions []string, latest, updates bool) ([]models.RemoteBuild, error) {
	byVersion := make(map[string]models.RemoteBuild, len(remote))
	for _, rb := range remote {
		byVersion[rb.Version] = rb
	}

	picked := make(map[string]models.RemoteBuild)
	for _, v := range versions {
		rb, ok := byVersion[v]
		if !ok {
			return nil, fmt.Errorf("version %s is not in the daily build catalog", v)
		}
		picked[v] = rb
	}

	if latest {
		newest := remote[0]
		for _, rb := range remote[1:] {
			if reconcile.CompareVersions(rb.Version, newest.Version) > 0 {
				newest = rb
			}
		}
		picked[newest.Version] = newest
	}

	if updates {
		reg := registry.New(globalConfig.DownloadPath)
		local, err := reg.Scan()
		if err != nil {
			return nil, fmt.Errorf("scanning installed builds: %w", err)
		}
		for _, r := range reconcile.Merge(local, remote) {
			if r.UpdateAvailable {
				if rb, ok := byVersion[r.Version]; ok {
					picked[r.Version] = rb
				}
			}
		}
	}

	builds := make([]models.RemoteBuild, 0, len(picked))
	for _, rb := range picked {
		builds = append(builds, rb)
	}
	sort.Slice(builds, func(i, j int) bool {
		return reconcile.CompareVersions(builds[i].Version, builds[j].Version) < 0
	})
	return builds, nil
}

// recordHistory writes one history entry per completed build. History
// failures never fail the download.
func recordHistory(builds []models.RemoteBuild, results map[string]pipeline.Result) {
	history, err := database.Open(globalConfig.HistoryPath)
	if err != nil {
		log.WithError(err).Warn("Could not open the download history store")
		return
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.WithError(err).Warn("Could not close the download history store")
		}
	}()

	for _, build := range builds {
		res, found := results[build.Version]
		if !found || res.State != models.TaskCompleted {
			continue
		}
		entry := models.HistoryEntry{
			Version:     build.Version,
			FileName:    build.FileName,
			Hash:        build.Hash,
			SizeBytes:   build.FileSize,
			CompletedAt: time.Now().Unix(),
		}
		if err := history.Record(entry); err != nil {
			log.WithError(err).Warnf("Could not record history for %s", build.Version)
		}
	}
}

func reportResults(builds []models.RemoteBuild, results map[string]pipeline.Result) {
	for _, build := range builds {
		res, found := results[build.Version]
		if !found {
			continue
		}
		if res.State == models.TaskCompleted {
			fmt.Printf("Blender %s installed.\n", build.Version)
		} else {
			fmt.Printf("Blender %s failed: %v\n", build.Version, res.Err)
		}
	}
}

// progressRenderer folds per-task progress updates into a block of live
// terminal lines, one per version.
type progressRenderer struct {
	mu     sync.Mutex
	writer *uilive.Writer
	order  []string
	states map[string]models.TaskProgress
}

func newProgressRenderer() *progressRenderer {
	return &progressRenderer{
		writer: uilive.New(),
		states: make(map[string]models.TaskProgress),
	}
}

func (r *progressRenderer) start() {
	r.writer.Start()
}

func (r *progressRenderer) stop() {
	r.mu.Lock()
	r.render()
	r.mu.Unlock()
	r.writer.Stop()
}

func (r *progressRenderer) update(p models.TaskProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.states[p.Version]; !seen {
		r.order = append(r.order, p.Version)
	}
	r.states[p.Version] = p
	r.render()
}

// render writes every task line to the live writer. Callers hold r.mu.
func (r *progressRenderer) render() {
	for i, version := range r.order {
		var target io.Writer = r.writer
		if i > 0 {
			target = r.writer.Newline()
		}
		p := r.states[version]
		switch p.State {
		case models.TaskDownloading:
			speed := p.Speed
			if speed == "" {
				speed = "-"
			}
			fmt.Fprintf(target, "Blender %s: downloading %3.0f%% (%s)\n", version, p.Percent, speed)
		case models.TaskExtracting:
			fmt.Fprintf(target, "Blender %s: extracting...\n", version)
		case models.TaskCompleted:
			fmt.Fprintf(target, "Blender %s: done\n", version)
		case models.TaskFailed:
			fmt.Fprintf(target, "Blender %s: failed\n", version)
		default:
			fmt.Fprintf(target, "Blender %s: queued\n", version)
		}
	}
}
