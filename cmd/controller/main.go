// Command controller runs the cognitive core: the physiological simulator,
// the Turn Synchronizer behind gRPC, the memory Governor with its distiller,
// and the operator HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// #region root
var configPath string

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Affective cognitive core",
	Long:  "Runs the state simulator, resonance scoring, memory governance and the reasoning-session boundary.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("CORE_CONFIG", ""), "YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(distillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion root

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
