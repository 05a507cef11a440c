package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var contactCmd = &cobra.Command{
	Use:   "contact <email>",
	Short: "Extract one contact and print the result",
	Long:  "Runs a single extraction outside any budget run. Nothing is written unless --save is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		save, _ := cmd.Flags().GetBool("save")

		env, err := initPipeline(ctx, "contact")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Runner.ExtractOne(ctx, args[0], save)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	contactCmd.Flags().Bool("save", false, "write the result to the extraction cache")
	rootCmd.AddCommand(contactCmd)
}
