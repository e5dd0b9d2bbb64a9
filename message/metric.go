// Package message defines the wire types flowing through the mapper
// pipeline: raw metric records consumed from the stream and mapped records
// carrying their resolved detectors.
package message

import (
	"encoding/json"
	"time"

	"github.com/songjiao/adaptive-alerting/errors"
	"github.com/songjiao/adaptive-alerting/mapper"
)

// MetricRecord is one metric data point identified by its tag set.
type MetricRecord struct {
	Tags            map[string]string `json:"tags"`
	Value           float64           `json:"value"`
	TimestampMillis int64             `json:"timestamp"`
}

// Validate checks the record for required fields.
func (r *MetricRecord) Validate() error {
	if len(r.Tags) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "MetricRecord", "Validate", "tags are required")
	}
	for name := range r.Tags {
		if name == "" {
			return errors.WrapInvalid(errors.ErrInvalidData, "MetricRecord", "Validate", "empty tag name")
		}
	}
	return nil
}

// ParseMetricRecord decodes and validates a metric record from JSON.
func ParseMetricRecord(data []byte) (*MetricRecord, error) {
	var record MetricRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.WrapInvalid(err, "MetricRecord", "ParseMetricRecord", "json unmarshal")
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &record, nil
}

// MappedMetricRecord is a metric record enriched with the detectors that
// apply to it. An empty detector list is a valid result: the metric was
// resolved and matched nothing.
type MappedMetricRecord struct {
	Metric         MetricRecord      `json:"metric"`
	Detectors      []mapper.Detector `json:"detectors"`
	MappedAtMillis int64             `json:"mappedAt"`
}

// NewMappedMetricRecord pairs a metric record with its resolved detectors.
func NewMappedMetricRecord(metric MetricRecord, detectors []mapper.Detector) MappedMetricRecord {
	if detectors == nil {
		detectors = []mapper.Detector{}
	}
	return MappedMetricRecord{
		Metric:         metric,
		Detectors:      detectors,
		MappedAtMillis: time.Now().UnixMilli(),
	}
}

// Marshal encodes the mapped record as JSON.
func (r *MappedMetricRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "MappedMetricRecord", "Marshal", "json marshal")
	}
	return data, nil
}
