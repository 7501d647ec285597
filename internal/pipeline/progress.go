package pipeline

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	log "github.com/sirupsen/logrus"
)

// percentPattern matches a reported progress percentage. The last match in
// the log is the freshest.
var percentPattern = regexp.MustCompile(`(\d+)%`)

// speedPatterns are tried from most to least specific so whichever dialect
// the fetch tool speaks, the first matching token is a plausible speed.
var speedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+[.,]?\d*\s?[KMG]B/s)`),
	regexp.MustCompile(`(?i)(\d+[.,]?\d*\s?[KMG]i?B/s)`),
	regexp.MustCompile(`(?i)(\d+[.,]?\d*\s?[KMG]/s)`),
	regexp.MustCompile(`(?i)(\d[\d.,]*\s*[KMG][I]?B/s)`),
	regexp.MustCompile(`(?i)(\d[\d.,]*\s*[KMG]/s)`),
}

// startMarkers indicate a fetch that has begun but reported no percentage yet.
var startMarkers = []string{"Starting download", "Downloading", "Resolving", "Connecting to"}

// errorMarkers in a log mean the fetch cannot be trusted as successful.
var errorMarkers = []string{"ERROR", "failed"}

// ScrapeLog extracts the latest progress percentage and a speed token from
// raw fetch-tool output. Reports ok=false when the log shows no progress and
// no start marker, which callers treat as "not started yet".
func ScrapeLog(content string) (percent float64, speed string, ok bool) {
	matches := percentPattern.FindAllStringSubmatch(content, -1)
	if len(matches) > 0 {
		last := matches[len(matches)-1][1]
		value, err := strconv.ParseFloat(last, 64)
		if err != nil {
			return 0, "", false
		}
		for _, pattern := range speedPatterns {
			if m := pattern.FindString(content); m != "" {
				return value, m, true
			}
		}
		return value, "", true
	}

	for _, marker := range startMarkers {
		if strings.Contains(content, marker) {
			return 0, "Starting...", true
		}
	}
	return 0, "", false
}

// CheckFetchSuccess decides whether the fetch behind a progress log
// completed: the log must carry no error marker and its final percentage
// must be strictly greater than 99.
func CheckFetchSuccess(logPath string) bool {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false
	}
	content := string(data)
	lowered := strings.ToLower(content)
	for _, marker := range errorMarkers {
		if strings.Contains(lowered, strings.ToLower(marker)) {
			return false
		}
	}
	percent, _, ok := ScrapeLog(content)
	return ok && percent > 99
}

type watcherHandle struct {
	stop chan struct{}
	done chan struct{}
}

// startWatcher launches the single goroutine that polls every task's
// progress log and publishes coalesced updates. It is the only writer of
// progress state for the whole batch.
//
// Published percentages are clamped to the maximum seen per task, so a log
// with out-of-order lines can never make progress run backwards. Updates are
// limited to roughly two per second per task, except that reaching 100% is
// always published immediately.
func (p *Pipeline) startWatcher(tasks []*task) watcherHandle {
	handle := watcherHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	interval := p.PollInterval
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	go func() {
		defer close(handle.done)

		maxSeen := make(map[string]float64, len(tasks))
		lastPublish := make(map[string]time.Time, len(tasks))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-handle.stop:
				return
			case <-ticker.C:
			}

			for _, t := range tasks {
				version := t.build.Version
				data, err := os.ReadFile(t.logPath)
				if err != nil {
					// Log not there yet: the fetch has not started.
					continue
				}
				percent, speed, ok := ScrapeLog(string(data))
				if !ok {
					continue
				}
				if percent < maxSeen[version] {
					percent = maxSeen[version]
				}

				reachedFull := percent >= 100 && maxSeen[version] < 100
				maxSeen[version] = percent

				now := time.Now()
				if !reachedFull && now.Sub(lastPublish[version]) < interval {
					continue
				}
				lastPublish[version] = now

				p.publish(models.TaskProgress{
					Version: version,
					State:   models.TaskDownloading,
					Percent: percent,
					Speed:   speed,
				})
				log.Debugf("Progress %s: %.0f%% (%s)", version, percent, speed)
			}
		}
	}()

	return handle
}
