// Package triage is the core of the aurelius triage system: the ingestion
// gate (dedup + partial-failure isolation), the tiered classification
// pipeline (rule, cheap model, expensive model), the batch grouping engine
// with its reclassify-to-rule learning loop, the item lifecycle state
// machine with undo, and the Store interface their state persists through.
package triage
