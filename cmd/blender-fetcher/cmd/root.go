package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/api"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/config"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// downloadDirFlag holds the value of the --download-dir flag
var downloadDirFlag string

// minVersionFlag holds the value of the --min-version flag
var minVersionFlag string

// yesFlag holds the value of the --yes flag
var yesFlag bool

// logLevelFlag holds the value of the --log-level flag
var logLevelFlag string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blender-fetcher",
	Short: "Fetch, manage and launch Blender daily builds",
	Long: `Blender Fetcher lists the official daily builds for this machine,
downloads and unpacks the ones you pick, and keeps the installed
copies up to date.`,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Defer closing the API logging transport if it was initialized
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing API log file")
			}
		}
	}()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Add persistent flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&downloadDirFlag, "download-dir", "", "Directory holding downloaded builds (overrides config)")
	rootCmd.PersistentFlags().StringVar(&minVersionFlag, "min-version", "", "Oldest Blender version to consider (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Answer yes to all confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log catalog API requests/responses to api.log")
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if level, err := log.ParseLevel(logLevelFlag); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping %s", logLevelFlag, log.GetLevel())
	}

	path := cfgFile
	if path == "" {
		var err error
		path, err = config.Path()
		if err != nil {
			return fmt.Errorf("cannot determine config location: %w", err)
		}
	}

	var err error
	globalConfig, err = config.Load(path)
	if err != nil {
		// Not fatal: commands that only touch already installed builds can
		// still run on defaults.
		log.WithError(err).Warnf("Failed to load configuration from %s", path)
		globalConfig = config.Default()
	}

	// Override DownloadPath if flag was used
	if cmd.Flags().Changed("download-dir") {
		if downloadDirFlag != "" {
			globalConfig.DownloadPath = downloadDirFlag
			log.Debugf("Overriding DownloadPath based on --download-dir flag: %s", downloadDirFlag)
		} else {
			log.Warn("--download-dir flag provided but value is empty, ignoring.")
		}
	}

	// Override VersionCutoff if flag was used
	if cmd.Flags().Changed("min-version") {
		if minVersionFlag != "" {
			globalConfig.VersionCutoff = minVersionFlag
			log.Debugf("Overriding VersionCutoff based on --min-version flag: %s", minVersionFlag)
		} else {
			log.Warn("--min-version flag provided but value is empty, ignoring.")
		}
	}

	// Ensure default timeout if not set or invalid
	if globalConfig.FetchTimeoutSec <= 0 {
		log.Debugf("FetchTimeoutSec not set or invalid in config/flags, defaulting to 20s")
		globalConfig.FetchTimeoutSec = 20
	}

	// --- Setup Global HTTP Transport ---
	baseTransport := http.DefaultTransport
	globalHttpTransport = baseTransport
	if logApiFlag {
		logFilePath := "api.log"
		if globalConfig.DownloadPath != "" {
			if _, statErr := os.Stat(globalConfig.DownloadPath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.DownloadPath, logFilePath)
			} else {
				log.Warnf("Download path '%s' not found, saving api.log to current directory.", globalConfig.DownloadPath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	// --- End Setup Global HTTP Transport ---

	return nil
}

// confirmer returns the pipeline confirmation hook honoring --yes. It reads
// a single line from stdin and treats anything but y/Y/yes as a no.
func confirmer() func(prompt string) bool {
	if yesFlag {
		return nil
	}
	return func(prompt string) bool {
		fmt.Printf("%s [y/N]: ", prompt)
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil {
			return false
		}
		return answer == "y" || answer == "Y" || answer == "yes"
	}
}
