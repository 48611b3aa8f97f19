package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/output"
	"github.com/panelsim/panelsim/internal/respondent"
)

var (
	rosterPrefecture string
	rosterRegion     string
	rosterFormat     string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the respondent roster",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List respondents",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, roster, err := openRoster()
		if err != nil {
			return err
		}
		rendered, err := output.Respondents(format, roster.List(respondent.Filter{
			Prefecture: rosterPrefecture,
			Region:     rosterRegion,
		}))
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var rosterPrefecturesCmd = &cobra.Command{
	Use:   "prefectures",
	Short: "Count respondents per region and prefecture",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, roster, err := openRoster()
		if err != nil {
			return err
		}
		rendered, err := output.Prefectures(format, roster.Prefectures())
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func openRoster() (output.Format, *respondent.Roster, error) {
	format, err := output.ParseFormat(rosterFormat)
	if err != nil {
		return "", nil, err
	}
	cfg := loadConfig()
	roster, err := respondent.Load(cfg.Roster.Path)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Failed to load roster", err)
	}
	return format, roster, nil
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterListCmd, rosterPrefecturesCmd)

	rosterCmd.PersistentFlags().StringVarP(&rosterFormat, "format", "f", "table", "output format: table, markdown or json")
	rosterListCmd.Flags().StringVar(&rosterPrefecture, "prefecture", "", "filter by prefecture")
	rosterListCmd.Flags().StringVar(&rosterRegion, "region", "", "filter by region")
}
