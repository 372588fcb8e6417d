package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"moneywright/internal/api"
	"moneywright/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP parsing API",
	Long: `Starts the HTTP surface on server.listen_addr (default 127.0.0.1:17777).

Endpoints:
  POST   /api/v1/parse                      parse a statement (JSON or multipart upload)
  GET    /api/v1/parsers                    list cached parser keys
  DELETE /api/v1/parsers/:source/:fileType  drop every cached version for a key
  GET    /api/v1/health                     liveness probe`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine(context.Background())
	if err != nil {
		return err
	}
	defer eng.Close()

	app := api.NewServer(eng.pool, eng.store).App()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.Server.ListenAddr)
	}()
	logging.API("Listening on %s", cfg.Server.ListenAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logging.API("Received %s, shutting down", sig)
		return app.Shutdown()
	}
}
