// Package mapper implements the detector-resolution core of the adaptive
// alerting pipeline: given a metric's tag set, it resolves the anomaly
// detectors that apply to it.
//
// Resolution is served from an in-process cache keyed by a canonical
// fingerprint of the tag set. Cache misses are resolved in batches against a
// remote mapping-rule backend (the DetectorSource), and metrics with no
// matching detectors are negative-cached as explicit empty entries so they do
// not re-trigger backend lookups. A background cycle periodically reconciles
// the cache against mapping rules that changed in the backend, evicting
// entries for disabled rules and invalidating entries derived from stale rule
// definitions.
//
// The hot path (Mapper.DetectorsFor) never blocks on network I/O; only batch
// lookups and the background sync talk to the backend.
package mapper
