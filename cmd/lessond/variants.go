package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/linguapulse/lesson/config"
)

var variantsFile string

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Print the effective lesson variant configuration",
	Long: `Print the effective lesson variant configuration as TOML.

The embedded defaults are merged with the file named by --file, or by
VARIANTS_FILE when the flag is not given.`,
	Args: cobra.NoArgs,
	RunE: runVariants,
}

func init() {
	variantsCmd.Flags().StringVar(&variantsFile, "file", "", "variants file to merge over the defaults")
	rootCmd.AddCommand(variantsCmd)
}

func runVariants(cmd *cobra.Command, args []string) error {
	path := variantsFile
	if path == "" {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path = cfg.VariantsFile
	}
	return printVariants(cmd.OutOrStdout(), path)
}

func printVariants(w io.Writer, path string) error {
	v, err := config.LoadVariants(path)
	if err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(v)
}
