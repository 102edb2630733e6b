package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List the datasets in the asset catalog",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, 16)
			for _, name := range cat.Names() {
				desc, err := cat.Describe(name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					name,
					desc.Destination,
					desc.License,
					fmt.Sprintf("%d", len(desc.Sources)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				{title: "Asset"},
				{title: "Destination"},
				{title: "License"},
				{title: "Candidates", numeric: true},
			}, rows))
			return nil
		},
	}
}
