package cmd

import (
	"fmt"
	goruntime "runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/panelsim/panelsim/internal/output"
)

var (
	extended      bool
	versionFormat string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. --extended adds build, Go and Fulmen library versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		if !extended {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", identity.BinaryName, versionInfo.Version)
			return nil
		}

		format, err := output.ParseFormat(versionFormat)
		if err != nil {
			return err
		}
		rendered, err := output.Properties(format, versionProperties(identity.BinaryName))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func versionProperties(name string) []output.Property {
	v := crucible.GetVersion()
	return []output.Property{
		{Key: "name", Value: name},
		{Key: "version", Value: versionInfo.Version},
		{Key: "commit", Value: versionInfo.Commit},
		{Key: "built", Value: versionInfo.BuildDate},
		{Key: "go", Value: goruntime.Version()},
		{Key: "platform", Value: goruntime.GOOS + "/" + goruntime.GOARCH},
		{Key: "gofulmen", Value: v.Gofulmen},
		{Key: "crucible", Value: v.Crucible},
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "table", "extended output format: table, json, markdown")
}
