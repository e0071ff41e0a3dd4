package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = logging.Logger("artiproxy")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured repositories over HTTP",
	Long: `Initializes the whitelist of every repository, starts the periodic
remote discovery of proxies and serves repository content until SIGINT or
SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		srv := &http.Server{
			Handler:           a.service.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a.manager.Start(ctx)

		go func() {
			log.Infof("artiproxy listening on %s, %d repositories", addr, len(a.registry.All()))
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("server error: %v", err)
				stop()
			}
		}()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
