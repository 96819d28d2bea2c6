package service

import (
	"context"
	"time"
)

// Metrics receives engine outcomes. internal/metrics provides the prometheus
// implementation.
type Metrics interface {
	BackupFinished(kind, status string, duration time.Duration, sizeBytes int64)
	RestoreFinished(status string)
	RetentionRemoved(n int)
}

type nopMetrics struct{}

func (nopMetrics) BackupFinished(string, string, time.Duration, int64) {}
func (nopMetrics) RestoreFinished(string)                              {}
func (nopMetrics) RetentionRemoved(int)                                {}

type nopActivity struct{}

func (nopActivity) Record(context.Context, string, map[string]any) {}
