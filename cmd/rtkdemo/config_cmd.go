package main

import (
	"fmt"

	"github.com/Swind/go-rtkernel/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective kernel configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig()
			if err != nil {
				return err
			}
			period, err := fc.TickDuration()
			if err != nil {
				return err
			}
			cfg := core.DefaultConfig()
			fc.Apply(cfg)

			effective := core.FileConfig{
				MaxPriorities: uint32(cfg.MaxPriorities),
				MinStackSize:  cfg.MinStackSize,
				SwitchHistory: cfg.SwitchHistory,
				TickPeriod:    period.String(),
				Logging:       fc.Logging,
			}
			out, err := yaml.Marshal(&effective)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
