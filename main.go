package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dr-coordinator/internal/audit"
	"dr-coordinator/internal/auth"
	"dr-coordinator/internal/config"
	coordinationapp "dr-coordinator/internal/coordination/application"
	coordination "dr-coordinator/internal/coordination/domain"
	coordinationrepo "dr-coordinator/internal/coordination/infrastructure/postgres"
	coordinationinterfaces "dr-coordinator/internal/coordination/interfaces"
	coordinationhttp "dr-coordinator/internal/coordination/interfaces/http"
	deviceapi "dr-coordinator/internal/devices/api"
	devicemqtt "dr-coordinator/internal/devices/mqtt"
	dispatchapp "dr-coordinator/internal/dispatch/application"
	dispatch "dr-coordinator/internal/dispatch/domain"
	"dr-coordinator/internal/dispatch/infrastructure/csvfile"
	dispatchrepo "dr-coordinator/internal/dispatch/infrastructure/postgres"
	"dr-coordinator/internal/notify"
	"dr-coordinator/internal/observability/metrics"
	"dr-coordinator/internal/oracle"
	telemetrypostgres "dr-coordinator/internal/telemetry/infrastructure/postgres"
	telemetryhttp "dr-coordinator/internal/telemetry/interfaces/http"

	"github.com/gorilla/handlers"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	telemetryRepo := telemetrypostgres.NewTelemetryRepository(db)
	telemetrySource, err := telemetrypostgres.NewSource(db)
	if err != nil {
		logger.Fatalf("telemetry source error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(telemetryRepo, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	actionSpace := toActionSpace(cfg.ActionSpace)
	sink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		logger.Fatalf("setpoint sink error: %v", err)
	}
	defer closeSink()

	dispatchRepo := dispatchrepo.NewRepository(db)
	var (
		recorder dispatchapp.Recorder = dispatchRepo
		records  coordinationhttp.RecordLister = dispatchRepo
	)
	if cfg.Dispatch.Recorder == config.RecorderCSV {
		csvRecorder, err := csvfile.NewRecorder(cfg.Dispatch.CSVDir)
		if err != nil {
			logger.Fatalf("csv recorder error: %v", err)
		}
		recorder = csvRecorder
		records = nil
	}
	dispatcher, err := dispatchapp.NewDispatcher(dispatchapp.Options{
		ActionSpace:      actionSpace,
		DefaultSetpoints: toSetpointTable(cfg.DefaultSetpoints),
		DeviceSetpoints:  toDeviceTables(cfg.DeviceSetpoints),
		ExternalIDs:      cfg.ExternalIDs,
		Simulated:        cfg.SimulatedSet(),
		BackupBand:       cfg.Dispatch.BackupBand,
		EnableBackup:     cfg.Dispatch.BackupEnabled,
		EnableDispatch:   cfg.Dispatch.Enabled,
	}, sink, recorder, logger)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	modelStore, err := oracle.NewStore(cfg.ModelDir, logger)
	if err != nil {
		logger.Fatalf("model store error: %v", err)
	}
	resolver, err := oracle.NewResolver(modelStore, actionSpace)
	if err != nil {
		logger.Fatalf("oracle resolver error: %v", err)
	}

	var publisher coordinationapp.ProgressPublisher = coordinationinterfaces.NewLoggingPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := coordinationinterfaces.NewKafkaPublisher(coordinationinterfaces.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.ProgressTopic))
		if err != nil {
			logger.Fatalf("kafka publisher error: %v", err)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	var notifier coordinationapp.OutcomeNotifier
	if cfg.Notify.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Template)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		notifier = notify.NewMultiNotifier(webhook)
	}

	mode := coordination.NewModeSignal()
	clock := coordinationapp.SystemClock{}
	bau, err := coordinationapp.NewDefaultController(cfg.Participants, actionSpace, cfg.Control.BAUInterval, telemetrySource, dispatcher, mode, clock, logger)
	if err != nil {
		logger.Fatalf("default controller error: %v", err)
	}
	go bau.Run(ctx)

	eventService, err := coordinationapp.NewService(ctx, coordinationapp.Config{
		Participants:              cfg.Participants,
		Simulated:                 cfg.SimulatedSet(),
		ActionSpace:               actionSpace,
		TrajectoryLength:          cfg.Trajectory.Length,
		TrajectoryInterval:        cfg.Trajectory.Interval,
		WindowMargin:              cfg.Trajectory.WindowMargin,
		ControlInterval:           cfg.Control.Interval,
		Kp:                        cfg.Control.Kp,
		Ki:                        cfg.Control.Ki,
		IntegralLimit:             cfg.Control.IntegralLimit,
		BaselineSetpointThreshold: cfg.Control.BaselineSetpointThreshold,
		LegacyDownFilter:          cfg.Control.LegacyDownFilter,
	}, coordinationapp.Deps{
		Telemetry:  telemetrySource,
		Oracles:    resolver,
		Dispatcher: dispatcher,
		Mode:       mode,
		Clock:      clock,
		Runs:       coordinationrepo.NewEventRepository(db),
		Publisher:  publisher,
		Notifier:   notifier,
	}, bau, logger, coordinationapp.WithHandoffTimeout(cfg.Control.HandoffTimeout))
	if err != nil {
		logger.Fatalf("event service error: %v", err)
	}
	eventHandler, err := coordinationhttp.NewHandler(eventService, records, auditRepo, logger)
	if err != nil {
		logger.Fatalf("event handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/events", eventHandler)
	mux.Handle("/api/v1/events/", eventHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	cors := handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(logger), handlers.PrintRecoveryStack(true))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           recovery(cors(loggingMiddleware(authMiddleware.Wrap(mux), logger))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		if _, err := eventService.Cancel(context.Background()); err == nil {
			logger.Printf("shutdown: active event cancelled")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eventService.Wait(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s participants=%d sink=%s recorder=%s", cfg.HTTPAddr, len(cfg.Participants), cfg.Dispatch.Sink, cfg.Dispatch.Recorder)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

func buildSink(cfg config.Config, logger *log.Logger) (dispatchapp.SetpointSink, func(), error) {
	noop := func() {}
	if !cfg.Dispatch.Enabled {
		logger.Printf("dispatch disabled: setpoints are recorded only")
		return nil, noop, nil
	}
	switch cfg.Dispatch.Sink {
	case config.SinkMQTT:
		client, err := devicemqtt.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Timeout)
		if err != nil {
			return nil, noop, err
		}
		sink, err := devicemqtt.NewSink(client, cfg.MQTT.TopicPrefix, cfg.MQTT.Timeout)
		if err != nil {
			client.Disconnect(250)
			return nil, noop, err
		}
		return sink, func() { client.Disconnect(250) }, nil
	default:
		client, err := deviceapi.NewClient(cfg.DeviceAPI.BaseURL, cfg.DeviceAPI.Token,
			deviceapi.WithHTTPClient(&http.Client{Timeout: cfg.DeviceAPI.Timeout}))
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	}
}

func toActionSpace(values []int) coordination.ActionSpace {
	space := make(coordination.ActionSpace, 0, len(values))
	for _, v := range values {
		space = append(space, coordination.Action(v))
	}
	return space
}

func toSetpointTable(values map[int]float64) dispatch.SetpointTable {
	table := make(dispatch.SetpointTable, len(values))
	for action, setpoint := range values {
		table[coordination.Action(action)] = setpoint
	}
	return table
}

func toDeviceTables(values map[string]map[int]float64) map[string]dispatch.SetpointTable {
	if len(values) == 0 {
		return nil
	}
	tables := make(map[string]dispatch.SetpointTable, len(values))
	for deviceID, table := range values {
		tables[deviceID] = toSetpointTable(table)
	}
	return tables
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
