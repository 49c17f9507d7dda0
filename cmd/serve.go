package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/metrics"
	"firestige.xyz/sniff/internal/server"
	"firestige.xyz/sniff/internal/session"
)

var serveOpts struct {
	device string
	read   string
	start  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket packet stream server",
	Long: `Run the websocket server. Clients select a device or file, start and stop
the capture, set their own packet filter and receive decoded packets as JSON.

A source may be preselected with --interface or --read.

Examples:
  sniff serve
  sniff serve -c sniff.yaml -i eth0 --start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveOpts.device != "" && serveOpts.read != "" {
			return fmt.Errorf("--interface and --read are mutually exclusive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sel := session.NewSelector(cfg)
		defer sel.Close()
		srv := server.New(cfg.Server, sel)

		var sess *session.Session
		switch {
		case serveOpts.device != "":
			sess, err = sel.SelectDevice(serveOpts.device)
		case serveOpts.read != "":
			sess, err = sel.SelectFile(serveOpts.read)
		}
		if err != nil {
			return err
		}
		if sess != nil {
			srv.Watch(sess)
			if serveOpts.start {
				sess.Start()
			}
		}

		if cfg.Metrics.Enabled {
			ms := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := ms.Start(ctx); err != nil {
				return err
			}
			defer ms.Stop(context.Background())
		}

		if err := srv.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Streaming on ws://%s%s\n", srv.Addr(), cfg.Server.Path)

		<-ctx.Done()
		log.GetLogger().Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.device, "interface", "i", "", "preselect a capture device")
	f.StringVarP(&serveOpts.read, "read", "r", "", "preselect a pcap file")
	f.BoolVar(&serveOpts.start, "start", false, "start the preselected session immediately")
}
