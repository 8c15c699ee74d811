package services

import "livecast/internal/core/domain"

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordStateTransition(from, to domain.SessionState) {}
func (NopMetrics) RecordBitrate(stats domain.Statistics)              {}
func (NopMetrics) RecordReconnectAttempt()                            {}
func (NopMetrics) RecordReconnectExhausted()                          {}
func (NopMetrics) RecordSignalingMessage(direction, name string)      {}
func (NopMetrics) RecordDiagnosticsDropped()                          {}

// NopDiagnostics discards all diagnostics topics.
type NopDiagnostics struct{}

func (NopDiagnostics) Report(topic domain.LogTopic) {}
