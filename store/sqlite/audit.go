package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payment-engine/billing"
)

// =============================================================================
// AUDIT SINK (billing.AuditSink)
// =============================================================================

// Emit persists an audit event.
func (q *queries) Emit(ctx context.Context, e billing.AuditEvent) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, actor_id, action, entity_type, entity_id, tenant_id, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, nullString(e.ActorID), e.Action, e.EntityType, e.EntityID,
		nullString(string(e.TenantID)), string(metadataJSON), formatTime(e.Timestamp),
	)
	if err != nil {
		return storeErr("emit audit event", err)
	}
	return nil
}

// ListAuditEvents returns the events recorded for one entity, oldest first.
// An empty entityID lists every event of the type.
func (q *queries) ListAuditEvents(ctx context.Context, entityType, entityID string) ([]billing.AuditEvent, error) {
	query := `
		SELECT id, actor_id, action, entity_type, entity_id, tenant_id, metadata_json, timestamp
		FROM audit_events
		WHERE entity_type = ? AND (? = '' OR entity_id = ?)
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := q.db.QueryContext(ctx, query, entityType, entityID, entityID)
	if err != nil {
		return nil, storeErr("list audit events", err)
	}
	defer rows.Close()

	var out []billing.AuditEvent
	for rows.Next() {
		var (
			e                 billing.AuditEvent
			actorID, tenantID sql.NullString
			metadataJSON      sql.NullString
			timestamp         string
		)
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &e.EntityType, &e.EntityID,
			&tenantID, &metadataJSON, &timestamp); err != nil {
			return nil, storeErr("scan audit event", err)
		}
		e.ActorID = actorID.String
		e.TenantID = billing.TenantID(tenantID.String)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, storeErr("decode audit metadata", err)
			}
		}
		if e.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, storeErr("decode audit timestamp", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list audit events", err)
	}
	return out, nil
}
