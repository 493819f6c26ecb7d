// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package metrics exposes Prometheus collectors for the portability
// service. Collectors are package-level and registered on the default
// registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsStarted counts accepted backup/restore/purge requests.
	OperationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "operations_started_total",
		Help:      "Operations accepted for execution, by kind.",
	}, []string{"kind"})

	// OperationsCompleted counts operations that finished successfully.
	OperationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "operations_completed_total",
		Help:      "Operations completed successfully, by kind.",
	}, []string{"kind"})

	// OperationsFailed counts operations that ended in error.
	OperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "operations_failed_total",
		Help:      "Operations that ended in error, by kind.",
	}, []string{"kind"})

	// OperationsRejected counts requests refused because an operation of
	// the same kind was already running.
	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "operations_rejected_total",
		Help:      "Operations rejected because one was already running, by kind.",
	}, []string{"kind"})

	// RecordsProcessed counts records handled by finished operations.
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "records_processed_total",
		Help:      "Records processed by finished operations, by kind.",
	}, []string{"kind"})

	// OperationDuration observes wall-clock duration of finished
	// operations.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "operation_duration_seconds",
		Help:      "Duration of finished operations, by kind.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"kind"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finspilot",
		Subsystem: "portability",
		Name:      "http_requests_total",
		Help:      "API requests, by route and status class.",
	}, []string{"route", "status"})
)
