// cogcore is the research orchestration service: queries go in, synthesized
// answers, citations and chart artifacts come out, with progress streamed
// while a run executes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "cogcore",
		Short: "Research query orchestration service",
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./config)")

	root.AddCommand(serveCMD(), askCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
