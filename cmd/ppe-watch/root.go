package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/sua-org/ppe-watch/internal/cameras"
	"github.com/sua-org/ppe-watch/internal/config"
	"github.com/sua-org/ppe-watch/internal/datastore"
)

// options are the flags shared by every subcommand.
type options struct {
	configFile string
	envFile    string
}

func (o *options) settings() (*config.Settings, error) {
	if o.envFile != "" {
		config.LoadDotEnv(o.envFile)
	} else {
		config.LoadDotEnv()
	}
	return config.Load(o.configFile)
}

func rootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ppe-watch",
		Short:         "Real-time PPE compliance monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file (environment variables take precedence)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", ".env file to load (default ./.env)")

	root.AddCommand(
		serveCommand(opts),
		initDBCommand(opts),
		probeCommand(opts),
	)
	return root
}

func openStore(ctx context.Context, s *config.Settings) (*datastore.Store, error) {
	store, err := datastore.Open(datastore.Config{
		Driver:   s.Database.Driver,
		Path:     s.Database.Path,
		Host:     s.Database.Host,
		Port:     s.Database.Port,
		User:     s.Database.User,
		Password: s.Database.Password,
		Name:     s.Database.Name,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// seedCameras registers the cameras of the seed file that are not configured
// yet. A missing setting is not an error.
func seedCameras(ctx context.Context, reg *cameras.Registry, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	seeds, err := config.LoadCameraSeed(path)
	if err != nil {
		return 0, err
	}
	added, err := reg.Seed(ctx, seeds)
	if err != nil {
		return added, fmt.Errorf("seed cameras from %s: %w", path, err)
	}
	log.Printf("[main] %d camera(s) added from %s", added, path)
	return added, nil
}
