package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avangerus/kalita-import/internal/api"
	"github.com/avangerus/kalita-import/internal/app"
	"github.com/avangerus/kalita-import/internal/config"
)

func newRootCmd() *cobra.Command {
	var (
		envFiles []string
		port     string
		dslDir   string
		profDir  string
	)
	cmd := &cobra.Command{
		Use:           "kalita-server",
		Short:         "HTTP-сервер загрузки CSV в сущности Kalita",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if dslDir != "" {
				cfg.DSLDir = dslDir
			}
			if profDir != "" {
				cfg.ProfilesDir = profDir
			}

			log, err := app.NewLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(a.Runner, a.Blobs, app.Load(cfg), a.Registry, log)
			return api.RunServer(":"+cfg.Port, srv)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&envFiles, "env-file", nil, "файлы окружения (по умолчанию .env, .env.local)")
	f.StringVar(&port, "port", "", "порт HTTP (KALITA_PORT)")
	f.StringVar(&dslDir, "dsl", "", "каталог *.dsl (KALITA_DSL_DIR)")
	f.StringVar(&profDir, "profiles", "", "каталог профилей импорта (KALITA_PROFILES_DIR)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("kalita-server")
	}
}
