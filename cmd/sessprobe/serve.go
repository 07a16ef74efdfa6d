package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/fixtureapp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newServeCmd runs the reference application standalone. The launcher starts it in
// process mode with the SESSPROBE_* variables; flags override them.
func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference session application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fixtureapp.LoadConfig(os.LookupEnv)
			if err != nil {
				return err
			}
			if h := v.GetString("handler"); h != "" {
				cfg.SaveHandler = h
			}
			if p := v.GetString("save_path"); p != "" {
				cfg.SavePath = p
			}
			if n := v.GetString("session_name"); n != "" {
				cfg.SessionName = n
			}
			if m := v.GetString("bool_mode"); m != "" {
				if cfg.BoolMode, err = fixture.ParseBoolMode(m); err != nil {
					return err
				}
			}
			port := v.GetInt("port")
			if port == 0 {
				if p, ok := os.LookupEnv(constants.EnvPrefix + "PORT"); ok {
					if port, err = strconv.Atoi(p); err != nil {
						return fmt.Errorf("invalid %sPORT: %w", constants.EnvPrefix, err)
					}
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveApp(ctx, cfg, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		},
	}
	cmd.Flags().Int("port", 0, "listen port (default $SESSPROBE_PORT)")
	cmd.Flags().String("handler", "", "session save handler (files, memcached, redis, memory)")
	cmd.Flags().String("save-path", "", "session save path")
	cmd.Flags().String("session-name", "", "session cookie name")
	cmd.Flags().String("bool-mode", "", "boolean rendering (numeric or word)")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("handler", cmd.Flags().Lookup("handler"))
	_ = v.BindPFlag("save_path", cmd.Flags().Lookup("save-path"))
	_ = v.BindPFlag("session_name", cmd.Flags().Lookup("session-name"))
	_ = v.BindPFlag("bool_mode", cmd.Flags().Lookup("bool-mode"))
	return cmd
}

func serveApp(ctx context.Context, cfg fixtureapp.Config, addr string) error {
	logger := common.GetLogger().WithComponent("serve")
	app, err := fixtureapp.New(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv := &http.Server{Addr: addr, Handler: app.Handler()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving reference application", "addr", addr, "handler", cfg.SaveHandler)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownGrace)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(sctx)
}
