package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xhub/adapter/promobs"
)

func addPeerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("service", "s", "", "service name to register as")
	cmd.Flags().String("host", "localhost", "hub host")
	cmd.Flags().IntP("port", "p", 8080, "hub port")
	cmd.Flags().Duration("connect-timeout", xhub.DefaultConnectTimeout, "report the hub unreachable after this long")
}

// bindPeerFlags binds the running command's flags; peer and send share the keys.
func bindPeerFlags(cmd *cobra.Command, v *viper.Viper) {
	_ = v.BindPFlag("peer.service", cmd.Flags().Lookup("service"))
	_ = v.BindPFlag("peer.host", cmd.Flags().Lookup("host"))
	_ = v.BindPFlag("peer.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("peer.connect_timeout", cmd.Flags().Lookup("connect-timeout"))
}

func newPeerCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Connect to a hub and log the events received",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindPeerFlags(cmd, v)
			enableOnFlag(cmd, v, "metrics-addr", "metrics", "listen_addr")
			cfg, logger, err := load(cmd, v)
			if err != nil {
				return err
			}
			events, _ := cmd.Flags().GetStringSlice("listen")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			b := builder(cfg, logger).
				WithName(cfg.Peer.Service).
				WithConnectTimeout(cfg.Peer.ConnectTimeout)
			var obs *promobs.Observer
			if cfg.Metrics.Enabled {
				obs = promobs.New("xhub_peer")
				b.WithObserver(obs)
			}
			peer, err := b.BuildPeer()
			if err != nil {
				return err
			}
			if obs != nil {
				if err := obs.Track(peer); err != nil {
					return err
				}
				serveMetrics(ctx, cfg.Metrics.ListenAddr, obs, peer, logger)
			}

			for _, id := range events {
				_, err := peer.Event(id).AddListener(func(ctx context.Context, data xhub.Payload, _ string) error {
					ev := logger.Info().Str("event", id).Str("payload", data.String())
					if env, ok := xhub.EnvelopeFromContext(ctx); ok {
						ev = ev.Str("origin", env.Origin).Str("envelope_id", env.ID)
					}
					ev.Msg("event received")
					return nil
				})
				if err != nil {
					return err
				}
			}

			if err := peer.Run(ctx, cfg.Peer.Port, cfg.Peer.Service, cfg.Peer.Host); err != nil {
				return err
			}
			<-ctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			return peer.Stop(stopCtx)
		},
	}
	addPeerFlags(cmd)
	cmd.Flags().StringSlice("listen", nil, "event ids to log")
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /health on this address")
	return cmd
}

func newSendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send EVENT DESTINATION [JSON]",
		Short: "Connect as a registered service, send one event and exit; fails if the hub refuses the service",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindPeerFlags(cmd, v)
			cfg, logger, err := load(cmd, v)
			if err != nil {
				return err
			}
			var payload xhub.Payload
			if len(args) == 3 {
				if payload, err = xhub.RawPayload([]byte(args[2])); err != nil {
					return fmt.Errorf("payload: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Peer.ConnectTimeout)
			defer cancel()

			refusal, refused := watchRefusal()
			peer, err := builder(cfg, logger).
				WithName(cfg.Peer.Service).
				WithConnectTimeout(cfg.Peer.ConnectTimeout).
				WithObserver(refusal).
				BuildPeer()
			if err != nil {
				return err
			}
			defer func() { _ = peer.Stop(context.Background()) }()

			if err := peer.Run(ctx, cfg.Peer.Port, cfg.Peer.Service, cfg.Peer.Host); err != nil {
				return err
			}
			select {
			case <-peer.Ready():
			case <-ctx.Done():
				return fmt.Errorf("connect to %s: %w", peer.Target(), ctx.Err())
			}

			// the dial side opens before the hub has judged the handshake
			env := xhub.Envelope{EventID: args[0], Destination: args[1], Payload: payload}
			sendErr := peer.Send(ctx, env)
			select {
			case e := <-refused:
				return fmt.Errorf("hub refused service %q (close %d): %s", peer.Name(), e.Code, e.Reason)
			case <-time.After(refusalGrace):
			}
			if sendErr != nil {
				return sendErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", args[0], args[1])
			return nil
		},
	}
	addPeerFlags(cmd)
	return cmd
}

// refusalGrace is how long send waits for a handshake refusal after writing.
const refusalGrace = 300 * time.Millisecond

// watchRefusal reports the first close carrying an application close code (4xxx).
func watchRefusal() (xhub.Observer, <-chan xhub.RelayEvent) {
	ch := make(chan xhub.RelayEvent, 1)
	return xhub.ObserverFunc(func(e xhub.RelayEvent) {
		if e.Type != xhub.ConnClosed || e.Code < 4000 {
			return
		}
		select {
		case ch <- e:
		default:
		}
	}), ch
}
