package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"dr-coordinator/internal/auth"
	telemetry "dr-coordinator/internal/telemetry/domain"
	telemetrypostgres "dr-coordinator/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn          string
	baseURL      string
	ingestSecret string
	devices      []string
	end          string
	samples      int
	interval     time.Duration
	baseSetpoint float64
}

type ingestPoint struct {
	TS      int64              `json:"ts"`
	Values  map[string]float64 `json:"values"`
	Quality string             `json:"quality"`
}

type ingestRequest struct {
	DeviceID string        `json:"deviceId"`
	Points   []ingestPoint `json:"points"`
}

func main() {
	cfg := parseConfig()
	if len(cfg.devices) == 0 {
		log.Fatal("devices must not be empty")
	}
	if cfg.samples <= 0 {
		log.Fatal("samples must be > 0")
	}
	if cfg.interval <= 0 {
		log.Fatal("interval must be > 0")
	}
	end, err := parseEnd(cfg.end, cfg.interval)
	if err != nil {
		log.Fatalf("invalid end: %v", err)
	}

	ctx := context.Background()
	switch {
	case cfg.baseURL != "":
		if cfg.ingestSecret == "" {
			log.Fatal("INGEST_HMAC_SECRET is required when posting to base-url")
		}
		log.Printf("posting telemetry: devices=%d samples=%d base_url=%s", len(cfg.devices), cfg.samples, cfg.baseURL)
		if err := postTelemetry(ctx, cfg, end); err != nil {
			log.Fatalf("post telemetry: %v", err)
		}
	case cfg.dsn != "":
		log.Printf("seeding telemetry_points: devices=%d samples=%d", len(cfg.devices), cfg.samples)
		if err := seedTelemetry(ctx, cfg, end); err != nil {
			log.Fatalf("seed telemetry: %v", err)
		}
	default:
		log.Fatal("PG_DSN, DATABASE_URL or base-url is required")
	}
	log.Printf("telemetry seed completed")
}

func parseConfig() config {
	cfg := config{}
	var devices string
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "post through the signed ingest API instead of the database")
	flag.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret")
	flag.StringVar(&devices, "devices", envOrDefault("DR_PARTICIPANTS", "house-1,house-2"), "comma separated device ids")
	flag.StringVar(&cfg.end, "end", envOrDefault("END", ""), "timestamp of the newest sample (RFC3339), default now")
	flag.IntVar(&cfg.samples, "samples", envOrInt("SAMPLES", 48), "samples per device")
	flag.DurationVar(&cfg.interval, "interval", envOrDuration("INTERVAL", 15*time.Minute), "spacing between samples")
	flag.Float64Var(&cfg.baseSetpoint, "setpoint", 21, "room setpoint")
	flag.Parse()
	cfg.devices = splitCSV(devices)
	return cfg
}

func parseEnd(value string, interval time.Duration) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC().Truncate(interval), nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// syntheticValues produces a daily outdoor cycle with a boiler that follows it.
func syntheticValues(deviceIdx int, ts time.Time, setpoint float64) map[string]float64 {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	outdoor := 5 + 4*math.Sin((hour-9)/24*2*math.Pi)
	roomTemp := setpoint - 0.5 + 0.3*math.Sin(hour/24*4*math.Pi) + float64(deviceIdx%3)*0.1
	modulation := math.Max(0, math.Min(100, (setpoint-outdoor)*3+float64(deviceIdx%5)))
	return map[string]float64{
		telemetry.PointRoomTemp:     roomTemp,
		telemetry.PointRoomSetpoint: setpoint,
		telemetry.PointOutdoorTemp:  outdoor,
		telemetry.PointModulation:   modulation,
		telemetry.PointSetpoint:     setpoint,
	}
}

func sampleTimes(end time.Time, samples int, interval time.Duration) []time.Time {
	times := make([]time.Time, 0, samples)
	for i := samples - 1; i >= 0; i-- {
		times = append(times, end.Add(-time.Duration(i)*interval))
	}
	return times
}

func seedTelemetry(ctx context.Context, cfg config, end time.Time) error {
	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := telemetrypostgres.NewTelemetryRepository(db)
	times := sampleTimes(end, cfg.samples, cfg.interval)
	for idx, deviceID := range cfg.devices {
		measurements := make([]telemetry.Measurement, 0, len(times)*5)
		for _, ts := range times {
			for key, value := range syntheticValues(idx, ts, cfg.baseSetpoint) {
				measurements = append(measurements, telemetry.Measurement{
					DeviceID: deviceID,
					PointKey: key,
					TS:       ts,
					Value:    value,
					Quality:  "simulated",
				})
			}
		}
		if err := repo.InsertMeasurements(ctx, measurements); err != nil {
			return fmt.Errorf("device %s: %w", deviceID, err)
		}
		log.Printf("seeded device %s (%d/%d)", deviceID, idx+1, len(cfg.devices))
	}
	return nil
}

func postTelemetry(ctx context.Context, cfg config, end time.Time) error {
	client := &http.Client{Timeout: 30 * time.Second}
	url := strings.TrimRight(cfg.baseURL, "/") + "/ingest/telemetry"
	times := sampleTimes(end, cfg.samples, cfg.interval)
	for idx, deviceID := range cfg.devices {
		body := ingestRequest{DeviceID: deviceID, Points: make([]ingestPoint, 0, len(times))}
		for _, ts := range times {
			body.Points = append(body.Points, ingestPoint{
				TS:      ts.UnixMilli(),
				Values:  syntheticValues(idx, ts, cfg.baseSetpoint),
				Quality: "simulated",
			})
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.HeaderIngestTimestamp, timestamp)
		req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest([]byte(cfg.ingestSecret), timestamp, payload))
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("ingest failed for %s: http %d", deviceID, resp.StatusCode)
		}
		log.Printf("posted device %s (%d/%d)", deviceID, idx+1, len(cfg.devices))
	}
	return nil
}

func splitCSV(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
