package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/launch"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"
)

func init() {
	rootCmd.AddCommand(launchCmd)
}

var launchCmd = &cobra.Command{
	Use:   "launch <version>",
	Short: "Launch an installed Blender build",
	Long: `Starts the named installed build as a detached process, so Blender
keeps running after this command returns.`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func runLaunch(cmd *cobra.Command, args []string) error {
	reg := registry.New(globalConfig.DownloadPath)
	if err := launch.Launch(reg, args[0]); err != nil {
		return err
	}
	fmt.Printf("Blender %s launched.\n", args[0])
	return nil
}
