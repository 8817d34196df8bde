package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/aichat/internal/roles"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the loaded role profiles",
	RunE:  runRoles,
}

func init() {
	rootCmd.AddCommand(rolesCmd)
}

func runRoles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := roles.NewCatalog(cfg.Roles.Dir)
	if err != nil {
		return err
	}
	writeRoles(os.Stdout, catalog)
	return nil
}

func writeRoles(out io.Writer, catalog *roles.Catalog) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLABEL\tTOOLS\tTOOL CHOICE")
	for _, p := range catalog.List() {
		choice := p.ToolChoice
		if choice == "" {
			choice = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Kind, p.Label, p.Tools, choice)
	}
	_ = tw.Flush()
}
