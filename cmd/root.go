// Package cmd wires the command line interface around the server core.
// Configuration comes from flags, FRAME_SERVER_* environment variables,
// and an optional .env file, in that order of precedence.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "frame-server",
		Short: "concurrent framed-message TCP server",
		Long: fmt.Sprintf(`frame-server (v%s)

A concurrent TCP server speaking a length-framed binary protocol with
echo and arithmetic operations, one worker goroutine per connection,
and ordered graceful shutdown.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of frame-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("frame-server v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
