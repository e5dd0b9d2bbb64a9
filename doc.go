// Package adaptivealerting provides the detector mapper, the resolution
// layer of a streaming anomaly detection pipeline. The mapper sits between
// the metric firehose and the detection layer: for every incoming metric it
// determines which anomaly detectors are responsible for that metric's tag
// set, and forwards the metric to them.
//
// # Architecture
//
// Metrics flow through three stages:
//
//	┌─────────────────────────────────────┐
//	│       Stream Processor              │  NATS consumption,
//	│  (consume, batch misses, publish)   │  miss batching
//	└─────────────────────────────────────┘
//	           ↓ resolves via
//	┌─────────────────────────────────────┐
//	│         Detector Mapper             │  Mapping cache,
//	│  (cache, batching heuristic, sync)  │  background sync
//	└─────────────────────────────────────┘
//	           ↓ looks up in
//	┌─────────────────────────────────────┐
//	│       Detector Source               │  Mapping backend
//	│     (HTTP lookup, retries)          │  round trips
//	└─────────────────────────────────────┘
//
// Cache hits resolve inline with no backend traffic. Misses accumulate and
// are resolved in batches sized by an adaptive heuristic driven by observed
// backend latency. A background sync cycle keeps the cache consistent with
// mapping definitions as they are created, updated and disabled.
//
// # Packages
//
// Core resolution:
//   - mapper: Mapping cache, batching heuristic, background sync
//   - detectorsource: HTTP client for the mapping backend
//   - message: Metric record wire formats
//
// Pipeline:
//   - processor/detectormapper: NATS stream processor
//   - natsclient: NATS connection management
//
// Infrastructure:
//   - config: Configuration loading and validation
//   - metric: Prometheus metrics
//   - errors: Structured error handling
//   - health: Health check system
//   - pkg/retry: Retry policies
package adaptivealerting
