// Command dlmsget is a thin CLI example over the client package: it dials a
// meter, associates, reads one COSEM attribute and prints the decoded value.
// It lives outside the core module on purpose (spec.md §6 "CLI surface: none
// is mandated") and is the only place in this repository that imports
// gopkg.in/yaml.v3 or github.com/spf13/cobra.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dlmsget",
		Short:         "Read a COSEM attribute from a DLMS/COSEM meter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newGetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
