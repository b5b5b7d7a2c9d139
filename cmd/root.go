package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "realm",
	Short: "Realm: visual editing that writes back to source",
	Long: `Realm bridges a live page preview and the source files behind it.
It extracts addressable elements from JSX and TSX components, relays style,
class, and text edits between connected clients, and persists committed
edits into the original files without disturbing the surrounding code.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "realm.yaml", "Path to configuration file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
