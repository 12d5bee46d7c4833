package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/mirror/internal/config"
)

func configCmd(loader *config.Loader, configPath *string) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration serve would run with, after applying the
configuration file and MIRROR_* environment variables. Secrets are
not printed.

Examples:
  mirror config
  mirror config --check -c prod.yaml
  MIRROR_SERVER_PUSH_MODE=disabled mirror config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if check {
				if cfg.Path() != "" {
					success(w, "%s is valid", cfg.Path())
				} else {
					success(w, "defaults are valid")
				}
				return nil
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			if cfg.Path() != "" {
				info(w, "%s", faint("# "+cfg.Path()))
			}
			_, err = w.Write(out)
			return err
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only validate the configuration")

	return cmd
}
