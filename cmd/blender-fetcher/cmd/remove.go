package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"
)

func init() {
	rootCmd.AddCommand(removeCmd)
}

var removeCmd = &cobra.Command{
	Use:     "remove <version>...",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove installed builds",
	Long: `Deletes every installed directory belonging to the named versions from
the download directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	if confirm := confirmer(); confirm != nil {
		prompt := fmt.Sprintf("Remove %d installed build(s)?", len(args))
		if !confirm(prompt) {
			fmt.Println("Removal cancelled.")
			return nil
		}
	}

	reg := registry.New(globalConfig.DownloadPath)
	failed := 0
	for _, version := range args {
		if reg.Delete(version) {
			fmt.Printf("Blender %s removed.\n", version)
		} else {
			fmt.Printf("Blender %s could not be removed (not installed, or removal failed).\n", version)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d version(s) not removed", failed, len(args))
	}
	return nil
}
