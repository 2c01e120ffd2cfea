// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by logs, spans and metrics.
const (
	AttrComponent = "component"
	AttrOperation = "reportcard.operation"

	// Record store attributes
	AttrCollection   = "reportcard.records.collection"
	AttrPointID      = "reportcard.records.point_id"
	AttrFilterKeys   = "reportcard.records.filter_keys"
	AttrLimit        = "reportcard.records.limit"
	AttrOrderBy      = "reportcard.records.order_by"
	AttrVectorLength = "reportcard.records.vector_length"
	AttrEmbedded     = "reportcard.records.embedded"
	AttrResultCount  = "reportcard.records.result_count"

	// Report store attributes
	AttrReportCount = "reportcard.reports.count"
	AttrStorageKey  = "reportcard.reports.storage_key"

	// Error attributes
	AttrErrorCode = "error.code"
)

// CollectionAttrs returns the attributes identifying a collection operation.
func CollectionAttrs(collection, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCollection, collection),
		attribute.String(AttrOperation, op),
	}
}
