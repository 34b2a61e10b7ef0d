package main

import (
	"path/filepath"
	"time"

	"github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig is the configuration for Influx/VictoriaMetrics.
type InfluxConfig struct {
	Host      string
	AuthToken string `yaml:"auth_token"`
	Org       string
	Bucket    string
}

type InfluxWriter struct {
	client influxdb2.Client
	api    api.WriteAPI
}

func NewInfluxWriter(config InfluxConfig) InfluxWriter {
	client := influxdb2.NewClient(config.Host, config.AuthToken)
	return InfluxWriter{
		client: client,
		api:    client.WriteAPI(config.Org, config.Bucket),
	}
}

func (i InfluxWriter) Close() {
	i.client.Close()
}

// WriteReport ships one file's anonymization outcome so batch runs can
// be charted and alerting can catch validation failures.
func (i InfluxWriter) WriteReport(report AnonymizeReport, runErr error) {
	point := influxdb2.NewPointWithMeasurement("edf_anonymize").
		AddTag("file", filepath.Base(report.Input)).
		AddField("bytes", report.Bytes).
		AddField("records", report.Records).
		AddField("redactions", report.Redactions).
		AddField("truncated", report.Truncated).
		AddField("seconds", report.Elapsed.Seconds()).
		AddField("validated", report.Validated).
		SetTime(time.Now())
	if runErr != nil {
		point.AddTag("outcome", "failed").AddField("error", runErr.Error())
	} else {
		point.AddTag("outcome", "ok")
	}
	i.api.WritePoint(point)
}
