package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/mtsession/internal/logging"
	"github.com/danmuck/mtsession/internal/observability"
	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/session"
	"github.com/danmuck/mtsession/internal/protocol/tlv"
	"github.com/danmuck/mtsession/internal/storage"
	"github.com/danmuck/mtsession/internal/transport"
	"github.com/danmuck/mtsession/internal/updates"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

// runtime is a session wired to its collaborators.
type runtime struct {
	cfg     appConfig
	store   *storage.Memory
	updates *updates.Dispatcher
	sess    *session.Session
}

// newRuntime builds a session from cfg. dial overrides the configured transport.
func newRuntime(cfg appConfig, dial session.Dialer) (*runtime, error) {
	store, key, err := cfg.identity()
	if err != nil {
		return nil, err
	}
	if dial == nil {
		if dial, err = transport.NewDialer(cfg.Transport); err != nil {
			return nil, err
		}
	}

	dispatcher := updates.New(func(_ context.Context, u protocol.Object) error {
		log.Info().Str("update", u.TypeName()).Msg("update received")
		return nil
	}, updates.Options{MaxInFlight: cfg.MaxUpdateHandlers})

	sess, err := session.New(session.Options{
		DCID:     cfg.DCID,
		TestMode: cfg.TestMode,
		IsMedia:  cfg.IsMedia,
		AuthKey:  key,
		Dial:     dial,
		Storage:  store,
		Updates:  dispatcher,
		OnDisconnect: func(context.Context) error {
			log.Info().Int("dc", cfg.DCID).Msg("disconnected")
			return nil
		},
		Client: cfg.Client,
		Config: cfg.Session,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, store: store, updates: dispatcher, sess: sess}, nil
}

func (r *runtime) close(ctx context.Context) error {
	err := r.sess.Close(ctx)
	if uerr := r.updates.Close(ctx); uerr != nil && err == nil {
		err = uerr
	}
	if r.cfg.StoragePath != "" {
		if serr := storage.Save(r.cfg.StoragePath, r.store); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func newRootCmd(dial session.Dialer) *cobra.Command {
	var cfgPath string
	var cfg appConfig

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Run and probe an MTProto session against a data center",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadAppConfig(cfgPath)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sessionctl.toml", "path to the TOML config")

	withSession := func(cmd *cobra.Command, fn func(ctx context.Context, r *runtime) error) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		r, err := newRuntime(cfg, dial)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("session close")
			}
		}()
		if err := r.sess.Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		return fn(ctx, r)
	}

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Start a session and round-trip a ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, r *runtime) error {
				id := time.Now().UnixNano()
				started := time.Now()
				res, err := r.sess.Invoke(ctx, &protocol.Ping{PingID: id})
				if err != nil {
					return err
				}
				pong, ok := res.(*protocol.Pong)
				if !ok {
					return fmt.Errorf("unexpected reply %s", res.TypeName())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong ping_id=%d rtt=%s\n", pong.PingID, time.Since(started).Round(time.Microsecond))
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "invoke-config",
		Short: "Invoke help.getConfig and print the decoded fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, r *runtime) error {
				res, err := r.sess.Invoke(ctx, &protocol.HelpGetConfig{})
				if err != nil {
					return err
				}
				printObject(cmd, res)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Start a session and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, r *runtime) error {
				st := r.sess.Status()
				fmt.Fprintf(cmd.OutOrStdout(), "dc=%d state=%s session_id=%d salt=%d pending=%d\n",
					st.DCID, st.State, st.SessionID, st.Salt, st.Pending)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Keep the session running and expose the admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, r *runtime) error {
				admin := observability.NewAdmin(observability.AdminConfig{
					Name:        "sessionctl",
					Addr:        r.cfg.AdminAddr,
					CORSOrigins: r.cfg.CORSOrigins,
					Token:       r.cfg.AdminToken,
				}, observability.AdminHooks{
					Status:  func() any { return r.sess.Status() },
					Ready:   func() bool { return r.sess.State() == session.StateRunning },
					Restart: r.sess.Restart,
				})
				err := admin.Serve(ctx)
				log.Info().Err(err).Msg("shutting down")
				return err
			})
		},
	})
	return root
}

func printObject(cmd *cobra.Command, obj protocol.Object) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (0x%08x)\n", obj.TypeName(), obj.TypeID())
	fields, err := obj.EncodeFields()
	if err != nil {
		fmt.Fprintf(out, "  <unencodable: %v>\n", err)
		return
	}
	for _, f := range fields {
		fmt.Fprintf(out, "  field %d = %s\n", f.ID, formatField(f))
	}
}

func formatField(f tlv.Field) string {
	switch f.Type {
	case tlv.TypeBool:
		return fmt.Sprintf("%t", len(f.Value) == 1 && f.Value[0] != 0)
	case tlv.TypeString:
		return fmt.Sprintf("%q", string(f.Value))
	case tlv.TypeI32, tlv.TypeU32:
		if v, err := tlv.U32FromBytes(f.Value); err == nil {
			if f.Type == tlv.TypeI32 {
				return fmt.Sprintf("%d", int32(v))
			}
			return fmt.Sprintf("%d", v)
		}
	case tlv.TypeI64, tlv.TypeU64:
		if v, err := tlv.U64FromBytes(f.Value); err == nil {
			if f.Type == tlv.TypeI64 {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%d", v)
		}
	}
	return fmt.Sprintf("0x%x", f.Value)
}
