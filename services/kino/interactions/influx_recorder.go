// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interactions

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent/providers"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig configures an InfluxRecorder.
type InfluxConfig struct {
	URL    string
	Org    string
	Bucket string
	Token  *providers.Secret

	// Measurement name. Default: "kino_turn"
	Measurement string
}

// InfluxRecorder writes one point per turn to InfluxDB for dashboards.
//
// Tags carry low-cardinality values (intent, shape); utterances and replies
// are not written.
type InfluxRecorder struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// NewInfluxRecorder creates the client. No connection is made until the
// first write.
func NewInfluxRecorder(cfg InfluxConfig) (*InfluxRecorder, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	token := ""
	if cfg.Token.IsSet() {
		var err error
		if token, err = cfg.Token.Reveal(); err != nil {
			return nil, fmt.Errorf("opening influx token: %w", err)
		}
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "kino_turn"
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	return &InfluxRecorder{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

// Record implements Recorder.
func (r *InfluxRecorder) Record(ctx context.Context, in Interaction) error {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{"intent": in.Intent.String()}
	if in.Shape != "" {
		tags["shape"] = in.Shape
	}
	fields := map[string]interface{}{
		"score":           in.Score,
		"candidate_count": in.CandidateCount,
		"duration_ms":     in.Duration.Milliseconds(),
		"selected":        in.SelectedTitle != "",
	}
	if err := r.writer.WritePoint(ctx, influxdb2.NewPoint(r.measurement, tags, fields, ts)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the client's resources.
func (r *InfluxRecorder) Close() {
	r.client.Close()
}
