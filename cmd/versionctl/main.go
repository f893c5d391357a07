// Command versionctl builds dataset version archives offline and manages the
// artifact cache.
package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dataset-export-service/internal/app"
	"dataset-export-service/internal/config"
)

// loader opens the service graph for one command run.
type loader func(ctx context.Context) (*app.Deps, error)

func loadFromConfig(ctx context.Context) (*app.Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app.InitLogger(cfg)
	return app.Build(ctx, cfg)
}

func newRootCommand(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:           "versionctl",
		Short:         "Export dataset versions and manage cached archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(exportCommand(load))
	root.AddCommand(artifactCommand(load))
	return root
}

func main() {
	if err := newRootCommand(loadFromConfig).ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("versionctl failed")
		os.Exit(1)
	}
}
