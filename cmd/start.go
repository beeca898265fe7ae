package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/luma/stela/internal/env"
	"github.com/luma/stela/storage"
	"github.com/luma/stela/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for ingest clients on
	port int
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 8282, "The port to listen for ingest connections on")
	flags.StringVar(&httpPort, "http-port", "8181", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the Stela ingestion service",
	Long: `Start up the Stela ingestion service

Usage
	stela start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		// A flag the user set wins; unset flags fall back to the
		// environment.
		applyEndpointConfig(cmd.Flags(), conf)

		store := storage.NewMemStore()
		if err := store.Reset(); err != nil {
			return err
		}

		if err := restoreSnapshot(store, conf.SnapshotPath); err != nil {
			return err
		}

		tcp := transport.NewTCP(transport.Options{
			Host:            host,
			Port:            port,
			MaxConns:        conf.MaxConns,
			ReadTimeout:     conf.ReadTimeout,
			MaxLineBytes:    conf.MaxLineBytes,
			AckWithSequence: conf.AckWithSequence,
			StayOpenOnError: conf.KeepAliveOnError,
			Store:           store,
			Log:             log.Named("transport"),
		})

		router := setupRouter(conf.DebugHTTP, log)

		// Readiness probe: 200 once the TCP listeners are accepting.
		// Harnesses poll this instead of sleeping after start.
		router.GET("/health", func(c *gin.Context) {
			if tcp.Ready() {
				c.String(http.StatusOK, "ok")
				return
			}

			c.String(http.StatusServiceUnavailable, "starting")
		})

		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(tcp.Metrics().Registry(), promhttp.HandlerOpts{})))

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		if err := saveSnapshot(store, conf.SnapshotPath); err != nil {
			log.Error("Failed to save store snapshot", zap.Error(err))
		}

		if err := store.Close(); err != nil {
			log.Error("Store did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

// applyEndpointConfig resolves the listen endpoint: flags the user
// changed keep their values, everything else comes from the STELA_*
// environment.
func applyEndpointConfig(flags *pflag.FlagSet, conf *env.Config) {
	if !flags.Changed("host") {
		host = conf.Host
	}

	if !flags.Changed("port") {
		port = conf.Port
	}

	if !flags.Changed("http-port") {
		httpPort = conf.HTTPPort
	}
}

// restoreSnapshot loads the store snapshot from path. A missing file
// is not an error: the first run has nothing to restore.
func restoreSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	return store.Restore(data)
}

// saveSnapshot writes the store snapshot to path.
func saveSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	data, err := store.Backup()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
