package main

import (
	"github.com/dshot92/TUI-Blender-Fetcher/cmd/blender-fetcher/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
