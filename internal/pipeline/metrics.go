package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/livebabel/babel-core/pipeline")

	recognized, err := meter.Int64ObservableCounter("babel.pipeline.utterances_recognized",
		metric.WithDescription("Utterances that produced a transcript"))
	if err != nil {
		return err
	}
	recognitionFailures, err := meter.Int64ObservableCounter("babel.pipeline.recognition_failures",
		metric.WithDescription("Utterances dropped because recognition failed or was empty"))
	if err != nil {
		return err
	}
	pending, err := meter.Int64ObservableGauge("babel.lane.pending",
		metric.WithDescription("Utterances in flight per lane"))
	if err != nil {
		return err
	}
	published, err := meter.Int64ObservableCounter("babel.lane.published",
		metric.WithDescription("Segments released to the broadcast track per lane"))
	if err != nil {
		return err
	}
	skipped, err := meter.Int64ObservableCounter("babel.lane.skipped",
		metric.WithDescription("Utterances skipped per lane to preserve liveness"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64ObservableCounter("babel.lane.backpressure_drops",
		metric.WithDescription("Utterances dropped at admission under backpressure"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(recognized, o.recognized.Load())
		obs.ObserveInt64(recognitionFailures, o.recognitionFailures.Load())
		for i, lane := range o.lanes {
			attrs := metric.WithAttributes(attribute.String("lang", lane.code))
			pubCount, skipCount := o.pubs[i].Counts()
			obs.ObserveInt64(pending, lane.Pending(), attrs)
			obs.ObserveInt64(published, pubCount, attrs)
			obs.ObserveInt64(skipped, skipCount, attrs)
			obs.ObserveInt64(dropped, lane.Dropped(), attrs)
		}
		return nil
	}, recognized, recognitionFailures, pending, published, skipped, dropped)
	return err
}
