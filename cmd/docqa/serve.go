package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/beego/beego/v2/server/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aihub/docqa/app/bootstrap"
	"github.com/aihub/docqa/app/controllers"
	"github.com/aihub/docqa/app/router"
	"github.com/aihub/docqa/internal/logger"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var noWarmup bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				os.Setenv("CONFIG_FILE", cfgPath)
			}
			opts := bootstrap.Options{}
			if noWarmup {
				off := false
				opts.Warmup = &off
			}

			app, err := bootstrap.Init(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := router.Init(controllers.NewControllerFactory(app.Container)); err != nil {
				return err
			}

			port, err := strconv.Atoi(app.Config.Server.Port)
			if err != nil {
				port = 8001
			}
			web.BConfig.AppName = "DocQA"
			web.BConfig.CopyRequestBody = true
			web.BConfig.RunMode = runMode(app.Config.Server.Env)
			web.BConfig.Listen.HTTPPort = port
			web.BConfig.Listen.Graceful = false
			web.BConfig.MaxMemory = app.Config.Ingestion.MaxFileSize
			web.BConfig.MaxUploadSize = app.Config.Ingestion.MaxFileSize

			go func() {
				stop := make(chan os.Signal, 1)
				signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
				<-stop
				logger.Info("Shutting down")
				app.Shutdown()
				os.Exit(0)
			}()

			logger.Info("Starting DocQA service", zap.Int("port", port))
			web.Run()
			return nil
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", getenv("CONFIG_FILE", ""), "config file")
	serve.Flags().BoolVar(&noWarmup, "no-warmup", false, "skip background model warm-up")

	return serve
}

func runMode(env string) string {
	switch env {
	case "production":
		return web.PROD
	default:
		return web.DEV
	}
}
