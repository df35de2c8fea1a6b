package cmd

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var logVerbosity int

var rootCmd = &cobra.Command{
	Use:          "consoleauth",
	Short:        "Console permission CLI",
	Long:         "Inspect the console access table, check capability masks and manage the local console session.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&logVerbosity, "verbosity", "v", 0, "Log verbosity; 1 logs session and storage lifecycle events.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the consoleauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger writes funcr records to w, one per line.
func newLogger(w io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{
		LogTimestamp: true,
		Verbosity:    verbosity,
	})
}
