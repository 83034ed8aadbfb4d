// opsvox is the operator-side voice console: it records spoken commands,
// streams them for correction and dispatch, and plays back feedback from the
// teams it watches.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsvox",
		Short: "Voice command and feedback console",
		Long:  "opsvox streams spoken commands to a correction service and plays back spoken feedback from remote teams.",
	}
	root.Version = Version
	root.SetVersionTemplate("opsvox " + Version + "\n")
	root.AddCommand(newRunCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the opsvox version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("opsvox " + Version)
		},
	})
	return root
}

func main() {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "opsvox: %v\n", err)
		os.Exit(1)
	}
}
