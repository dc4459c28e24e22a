// Package metrics publishes pipeline counters to CloudWatch. Metrics are
// strictly best-effort: a broken metrics path must never take down
// extraction, so client init and publish failures log once and then drop
// data points silently.
package metrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	DefaultNamespace       = "AsiaFilings/DataPipeline"
	DefaultGibberishMetric = "GibberishPagesDetected"

	dimensionExchange        = "Exchange"
	unknownExchangeDimension = "UNKNOWN"
)

// API is the slice of the CloudWatch client the emitter uses.
type API interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Emitter publishes gibberish-page counters. The underlying client is
// created lazily on first use and shared for the process lifetime.
type Emitter struct {
	Enabled    bool
	Namespace  string
	MetricName string
	Logger     *slog.Logger

	// Client overrides the lazily created CloudWatch client (tests).
	Client API

	initOnce   sync.Once
	errLogOnce sync.Once
}

// NewEmitter builds an emitter with production defaults.
func NewEmitter(enabled bool, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		Enabled:    enabled,
		Namespace:  DefaultNamespace,
		MetricName: DefaultGibberishMetric,
		Logger:     logger,
	}
}

// GibberishDetected emits one counter increment for a detected gibberish
// page, dimensioned by exchange.
func (e *Emitter) GibberishDetected(ctx context.Context, exchange string) {
	if e == nil || !e.Enabled {
		return
	}

	client := e.client(ctx)
	if client == nil {
		return
	}

	if exchange == "" {
		exchange = unknownExchangeDimension
	}

	_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(e.Namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(e.MetricName),
				Value:      aws.Float64(1),
				Unit:       types.StandardUnitCount,
				Dimensions: []types.Dimension{
					{Name: aws.String(dimensionExchange), Value: aws.String(exchange)},
				},
			},
		},
	})
	if err != nil {
		e.errLogOnce.Do(func() {
			e.Logger.Warn("failed to publish gibberish metric",
				"namespace", e.Namespace, "metric", e.MetricName, "error", err)
		})
	}
}

func (e *Emitter) client(ctx context.Context) API {
	e.initOnce.Do(func() {
		if e.Client != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			e.errLogOnce.Do(func() {
				e.Logger.Warn("cloudwatch client init failed; metrics disabled", "error", err)
			})
			return
		}
		e.Client = cloudwatch.NewFromConfig(cfg)
	})
	return e.Client
}
