package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"clinicq/reservation-service/internal/config"
	"clinicq/reservation-service/internal/gate"
	"clinicq/reservation-service/internal/httpapi"
	"clinicq/reservation-service/internal/hub"
	"clinicq/reservation-service/internal/store/postgres"
	"clinicq/reservation-service/internal/telemetry"
	"clinicq/reservation-service/internal/toggle"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("reservation-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatalf("load timezone %q: %v", cfg.TimeZone, err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, loc)
	admission := gate.New(st, loc)
	trigger := toggle.New(st, loc)
	h := hub.New()
	handler := httpapi.NewHandler(st, admission, trigger)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		WritePerMinute: cfg.RateLimitWritePerMin,
		WriteBurst:     cfg.RateLimitWriteBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())
	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{VisitDate: parsed.VisitDate})
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "reservation-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go func() {
		log.Printf("reservation-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.ToggleInterval > 0 {
		go toggle.Start(rootCtx, cfg.ToggleInterval, trigger)
	}

	if cfg.CapacityScanInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CapacityScanInterval)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
					today := time.Now().In(loc).Format("2006-01-02")
					if err := admission.Enforce(ctx, today); err != nil {
						log.Printf("capacity scan error: %v", err)
					}
					cancel()
				}
			}
		}()
	}

	pollInterval := cfg.RealtimePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	go func() {
		var running int32
		lastEventTime := time.Now().UTC()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
			events, err := st.ListOutboxEvents(ctx, lastEventTime, cfg.RealtimeBatchSize)
			cancel()
			if err != nil {
				log.Printf("poll outbox error: %v", err)
			} else {
				for _, event := range events {
					lastEventTime = event.CreatedAt
					payload, _ := json.Marshal(eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt})
					h.Broadcast(payload, hub.Subscription{VisitDate: event.VisitDate})
				}
			}
			atomic.StoreInt32(&running, 0)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
