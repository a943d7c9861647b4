package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xuanvinh1997/open-term/internal/rdp"
	"github.com/xuanvinh1997/open-term/internal/server"
)

func main() {
	cfg := server.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "opentermd",
		Short: "Remote desktop gateway",
		Long: "opentermd exposes RDP hosts to web clients: sessions are created over a\n" +
			"REST API and streamed as incremental frame updates over WebSocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rdp.ParseQuality(cfg.DefaultQuality); err != nil {
				return err
			}

			srv := server.New(cfg)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				log.Println("shutting down...")
				srv.Shutdown()
			}()

			if err := srv.Run(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "gateway listen address")
	flags.IntVar(&cfg.DefaultWidth, "width", cfg.DefaultWidth, "default desktop width")
	flags.IntVar(&cfg.DefaultHeight, "height", cfg.DefaultHeight, "default desktop height")
	flags.StringVar(&cfg.DefaultQuality, "quality", cfg.DefaultQuality,
		"default quality preset (ultra, high, balanced, performance, low_bandwidth)")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "TCP connect timeout for remote hosts")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
