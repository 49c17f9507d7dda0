package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/sniff/internal/config"
	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/filter"
	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/metrics"
	"firestige.xyz/sniff/internal/session"
	"firestige.xyz/sniff/internal/sink/console"
	"firestige.xyz/sniff/internal/source/file"
)

// PacketSession is the part of a capture session the capture command drives.
type PacketSession interface {
	Start()
	Stop()
	Receive(ctx context.Context) (*core.DecodedPacket, bool)
	SaveToFile(path string) error
	Stats() session.Stats
	Close() error
}

var captureOpts struct {
	device    string
	read      string
	predicate string
	filter    string
	write     string
	count     int
	output    string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and print decoded packets",
	Long: `Capture frames from a device or replay a pcap file, print the decoded packets
that match the filter, and optionally save the captured frames on exit.

The predicate (-p) is a BPF expression applied at the source; the filter (-f) is a
flag expression applied to decoded packets.

Examples:
  sniff capture -i eth0 -f "tcp port|443"
  sniff capture -i eth0 -p "udp" -w out.pcap -n 100
  sniff capture -r trace.pcap -f "ip|10.0.0.1 dport|53"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (captureOpts.device == "") == (captureOpts.read == "") {
			return errors.New("exactly one of --interface or --read is required")
		}
		expr, err := filter.ParseExpression(captureOpts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
		sink, err := console.NewSink(cmd.OutOrStdout(), captureOpts.output)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := openCaptureSession(cfg, stop)
		if err != nil {
			return err
		}

		if cfg.Metrics.Enabled {
			ms := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := ms.Start(ctx); err != nil {
				sess.Close()
				return err
			}
			defer ms.Stop(context.Background())
		}

		return runCapture(ctx, sess, expr, captureOpts.count, captureOpts.write, sink, cmd.ErrOrStderr())
	},
}

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureOpts.device, "interface", "i", "", "capture device name")
	f.StringVarP(&captureOpts.read, "read", "r", "", "pcap or pcapng file to replay")
	f.StringVarP(&captureOpts.predicate, "predicate", "p", "", "BPF predicate applied at the source")
	f.StringVarP(&captureOpts.filter, "filter", "f", "", "flag filter applied to decoded packets")
	f.StringVarP(&captureOpts.write, "write", "w", "", "save captured frames to this pcap file on exit")
	f.IntVarP(&captureOpts.count, "count", "n", 0, "stop after this many matching packets (0 = unlimited)")
	f.StringVarP(&captureOpts.output, "output", "o", console.FormatText, "packet output format: text or json")
}

// openCaptureSession opens the device or file session named by the flags. A replayed
// file ends the capture once it is exhausted.
func openCaptureSession(cfg *config.Config, cancel context.CancelFunc) (*session.Session, error) {
	if captureOpts.predicate != "" {
		cfg.Capture.Predicate = captureOpts.predicate
	}

	if captureOpts.device != "" {
		if captureOpts.write != "" {
			cfg.Session.Persist = true
		}
		return session.NewDeviceSession(captureOpts.device, cfg)
	}

	if captureOpts.write != "" {
		cfg.Session.PersistFiles = true
	}
	src, err := file.Open(captureOpts.read)
	if err != nil {
		return nil, err
	}
	opts := session.OptionsFromConfig(cfg, captureOpts.read, true)
	opts.OnExhausted = cancel
	return session.New(src, opts)
}

// runCapture starts sess, sends matching packets to sink until ctx is done, count packets
// were shown or the session closes, then saves and closes the session. Progress goes to out.
func runCapture(ctx context.Context, sess PacketSession, expr filter.Expression, count int, writePath string, sink *console.Sink, out io.Writer) error {
	defer sess.Close()

	logger := log.GetLogger()
	logger.WithField("filter", expr.String()).Info("capture started")

	sess.Start()
	for count <= 0 || sink.Sent() < count {
		pkt, ok := sess.Receive(ctx)
		if !ok {
			break
		}
		if !expr.Match(pkt) {
			continue
		}
		if err := sink.Send(pkt); err != nil {
			sess.Stop()
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	sess.Stop()
	shown := sink.Sent()

	st := sess.Stats()
	logger.WithFields(map[string]interface{}{
		"shown":     shown,
		"frames":    st.Frames,
		"malformed": st.Malformed,
	}).Info("capture finished")

	if writePath != "" {
		if err := sess.SaveToFile(writePath); err != nil {
			return fmt.Errorf("failed to save capture: %w", err)
		}
		fmt.Fprintf(out, "✓ Capture saved to %s\n", writePath)
	}
	fmt.Fprintf(out, "%d packets shown, %d frames captured, %d malformed\n", shown, st.Frames, st.Malformed)
	return nil
}
