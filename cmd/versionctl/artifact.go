package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"dataset-export-service/internal/core/domain"
)

func artifactCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Inspect and purge cached version archives",
	}
	cmd.AddCommand(artifactShowCommand(load))
	cmd.AddCommand(artifactPurgeCommand(load))
	return cmd
}

func artifactShowCommand(load loader) *cobra.Command {
	var (
		versionID int64
		format    string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached artifact of a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := load(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			a, err := deps.Export.Artifact(ctx, versionID, format)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}
	cmd.Flags().Int64Var(&versionID, "version", 0, "Version id")
	cmd.Flags().StringVar(&format, "format", string(domain.FormatYOLO), "Label format: yolo, coco or custom")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func artifactPurgeCommand(load loader) *cobra.Command {
	var (
		versionID int64
		format    string
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the cached artifact of a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := load(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Export.InvalidateArtifact(ctx, versionID, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged artifact of version %d (%s)\n", versionID, format)
			return nil
		},
	}
	cmd.Flags().Int64Var(&versionID, "version", 0, "Version id")
	cmd.Flags().StringVar(&format, "format", string(domain.FormatYOLO), "Label format: yolo, coco or custom")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
