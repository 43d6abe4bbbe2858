// Command seshat migrates PostgreSQL databases and generates idempotent
// schema scripts from live catalog state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seshatdb/seshat/cmd/migrate"
	"github.com/seshatdb/seshat/cmd/schema"
)

var rootCmd = &cobra.Command{
	Use:   "seshat",
	Short: "PostgreSQL schema migration and introspection tool",
	Long: `Seshat advances a PostgreSQL database through an ordered sequence of
versioned SQL migrations, and introspects live databases into idempotent
schema scripts that double as bootstrap snapshots for empty databases.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(schema.NewSchemaCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
