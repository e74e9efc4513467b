package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"studio/internal/assets"
	"studio/internal/domain"
)

func newAssetsCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assets <resource|style> <owner-id>",
		Short: "List an owner's assets and their current versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerType, err := domain.ParseOwnerType(args[0])
			if err != nil {
				return err
			}
			owner := domain.Owner{Type: ownerType, ID: args[1]}
			if err := owner.Validate(); err != nil {
				return err
			}
			backend, err := cc.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			svc := assets.NewService(backend.Store, backend.Blobs, cc.logger)
			owned, err := svc.GetByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if len(owned) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no assets\n", owner)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Type", "Key", "Current", "Source", "Pinned", "Updated"},
				assetRows(owned),
			))
			return nil
		},
	}
}

func assetRows(owned []domain.OwnedAsset) [][]string {
	rows := make([][]string, 0, len(owned))
	for _, oa := range owned {
		current, source, pinned := "-", "", ""
		if oa.Current != nil {
			current = oa.Current.ID
			source = string(oa.Current.Source)
			if oa.Current.Pinned {
				pinned = "yes"
			}
		}
		key := oa.Asset.AssetKey
		if key == "" {
			key = "-"
		}
		rows = append(rows, []string{
			oa.Asset.AssetType,
			key,
			current,
			source,
			pinned,
			oa.Asset.UpdatedAt.Format(time.RFC3339),
		})
	}
	return rows
}
