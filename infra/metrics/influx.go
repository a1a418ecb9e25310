package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.OutcomeSink {
	sink := NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordOffer writes the resolved offer as a line protocol event.
func (s *InfluxSink) RecordOffer(rec coremetrics.OfferRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("offer_event").
		AddTag("technician_id", rec.TechnicianID).
		AddTag("job_request_id", rec.JobRequestID).
		AddTag("status", rec.Status.String()).
		AddTag("component", "dispatcher").
		AddField("candidate_index", rec.CandidateIndex).
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		SetTime(rec.IssuedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOutcome writes the terminal outcome as a line protocol event.
func (s *InfluxSink) RecordOutcome(out model.DispatchOutcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_outcome").
		AddTag("job_request_id", out.JobRequestID).
		AddTag("reason", out.Reason.String()).
		AddTag("won", strconv.FormatBool(out.HasWinner())).
		AddTag("component", "dispatcher").
		AddField("winner_id", out.WinnerID).
		AddField("candidates_attempted", out.CandidatesAttempted).
		SetTime(out.CompletedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close shuts down the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
