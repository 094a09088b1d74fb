// Command fleethub boots the dispatch engine and every ambient surface
// around it: the administrative ingress, the device-facing websocket
// subscribe endpoints, and the analytics ingestion route. Flag/viper parse,
// router assembly, then run until a signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"github.com/xmidt-org/ancla"
	"github.com/xmidt-org/candlelight"
	"go.opentelemetry.io/otel"

	"github.com/xmidt-org/fleethub/internal/ackrouter"
	"github.com/xmidt-org/fleethub/internal/analytics"
	"github.com/xmidt-org/fleethub/internal/config"
	"github.com/xmidt-org/fleethub/internal/device"
	"github.com/xmidt-org/fleethub/internal/deviceio"
	"github.com/xmidt-org/fleethub/internal/dispatch"
	"github.com/xmidt-org/fleethub/internal/fleet"
	"github.com/xmidt-org/fleethub/internal/ingress"
	"github.com/xmidt-org/fleethub/internal/notify"
	"github.com/xmidt-org/fleethub/internal/pendingack"
	"github.com/xmidt-org/fleethub/internal/telemetry"
	"github.com/xmidt-org/fleethub/internal/wire"
)

func fleethub(arguments []string) (exitCode int) {
	f := config.NewFlagSet()
	configFile := f.StringP("file", "f", "", "path to a fleethub configuration file")
	if err := f.Parse(arguments[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse flags: %s\n", err.Error())
		return 1
	}

	v := viper.New()
	if err := v.BindPFlags(f); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to bind flags: %s\n", err.Error())
		return 1
	}
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to read config file: %s\n", err.Error())
			return 1
		}
	}

	cfg, err := config.Parse(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse configuration: %s\n", err.Error())
		return 1
	}

	logger := log.With(log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout)), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	infoLogger, errorLogger := telemetry.Info(logger), telemetry.Error(logger)
	infoLogger.Log("msg", "configuration loaded", "configFile", v.ConfigFileUsed(), "address", cfg.Address)

	if tracing, err := telemetry.NewTracing(candlelight.Config{}); err != nil {
		errorLogger.Log("msg", "tracing disabled", "err", err)
	} else {
		otel.SetTracerProvider(tracing.TracerProvider())
	}

	cmdTable := pendingack.NewTable(wire.KindCommand, logger)
	cntTable := pendingack.NewTable(wire.KindContent, logger)
	router := ackrouter.New(logger)

	hookRegistry := notify.NewMemoryRegistry()
	if cfg.WebhookURL != "" {
		hookRegistry.Add(ancla.Webhook{
			Events: []string{".*"},
			Config: ancla.DeliveryConfig{URL: cfg.WebhookURL},
		})
	}
	notifier := notify.New(hookRegistry, logger)

	commandRegistry := device.NewRegistry(device.RegistryOptions{
		Kind:             wire.KindCommand,
		Logger:           logger,
		FailAllForDevice: cmdTable.FailAllForDevice,
		Notify:           notifier.OnSessionChange,
		OnAck: func(_ wire.StreamKind, deviceID string, raw []byte) {
			router.RouteCommand(cmdTable, deviceID, raw)
		},
	})
	contentRegistry := device.NewRegistry(device.RegistryOptions{
		Kind:             wire.KindContent,
		Logger:           logger,
		FailAllForDevice: cntTable.FailAllForDevice,
		Notify:           notifier.OnSessionChange,
		OnAck: func(_ wire.StreamKind, deviceID string, raw []byte) {
			router.RouteContent(cntTable, deviceID, raw)
		},
	})

	fleetStore := fleet.NewMemoryStore()

	commandDispatcher := dispatch.New(dispatch.Options{
		Kind: wire.KindCommand, Source: "fleethub",
		Registry: commandRegistry, Table: cmdTable, Fleet: fleetStore, Logger: logger,
	})
	contentDispatcher := dispatch.New(dispatch.Options{
		Kind: wire.KindContent, Source: "fleethub",
		Registry: contentRegistry, Table: cntTable, Fleet: fleetStore, Logger: logger,
	})

	authenticate := ingress.NewAuthChain(cfg.AuthHeaders, logger)

	r := mux.NewRouter()

	ingress.ConfigHandler(&ingress.Options{
		Router:            r,
		Commands:          commandDispatcher,
		Content:           contentDispatcher,
		Fleet:             fleetStore,
		Authenticate:      authenticate,
		Logger:            logger,
		DefaultCmdTimeout: cfg.CommandAckTimeout,
		DefaultCntTimeout: cfg.ContentAckTimeout,
		OnGroupDispatch:   notifier.OnGroupDispatchComplete,
	})

	notify.ConfigHandler(&notify.Options{Router: r, Registry: hookRegistry, Logger: logger})

	deviceio.ConfigHandler(&deviceio.Options{
		Router:          r,
		CommandRegistry: commandRegistry,
		ContentRegistry: contentRegistry,
		Logger:          logger,
	})

	analyticsService := analytics.NewService(analytics.DefaultPolicy, logger)
	analytics.ConfigHandler(&analytics.Options{Router: r, Service: analyticsService, Logger: logger})

	httpServer := &http.Server{Addr: cfg.Address, Handler: r}

	serverErrors := make(chan error, 1)
	go func() {
		infoLogger.Log("msg", "listening", "address", cfg.Address)
		serverErrors <- httpServer.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			errorLogger.Log("msg", "listener failed", "err", err)
			return 2
		}
	case sig := <-signals:
		infoLogger.Log("msg", "exiting due to signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	commandRegistry.Shutdown()
	contentRegistry.Shutdown()
	cmdTable.Shutdown()
	cntTable.Shutdown()

	if err := httpServer.Shutdown(ctx); err != nil {
		errorLogger.Log("msg", "graceful shutdown failed", "err", err)
		return 3
	}

	return 0
}

func main() {
	os.Exit(fleethub(os.Args))
}
