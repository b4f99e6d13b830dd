package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/config"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LedgerEventAction string

const (
	LedgerEventActionCreate LedgerEventAction = "CREATE"
	LedgerEventActionUpdate LedgerEventAction = "UPDATE"
	LedgerEventActionDelete LedgerEventAction = "DELETE"
)

type LedgerEventSideEffect string

const (
	SideEffectNone            LedgerEventSideEffect = "NONE"
	SideEffectInventoryAdjust LedgerEventSideEffect = "INVENTORY_ADJUST"
	SideEffectPaymentCreate   LedgerEventSideEffect = "PAYMENT_CREATE"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// LedgerEventRecord is the transactional-outbox row written after every order
// lifecycle operation, including the side effects that were swallowed on the
// primary path. It makes the availability-over-consistency trade-off
// inspectable: a failed inventory adjustment is logged AND lands here with
// its error, instead of vanishing.
type LedgerEventRecord struct {
	ID            int                   `gorm:"primary_key" json:"id"`
	Collection    string                `gorm:"size:32;index;not null" json:"collection"`
	DocumentId    string                `gorm:"size:36;index" json:"document_id"`
	Action        LedgerEventAction     `gorm:"size:16;not null" json:"action"`
	SideEffect    LedgerEventSideEffect `gorm:"size:32;not null;default:NONE" json:"side_effect"`
	OccurredAt    time.Time             `gorm:"not null" json:"occurred_at"`
	OldObj        []byte                `gorm:"type:json" json:"old_obj"`
	NewObj        []byte                `gorm:"type:json" json:"new_obj"`
	SideEffectErr *string               `gorm:"type:text" json:"side_effect_error"`
	CorrelationId string                `gorm:"size:36;index" json:"correlation_id"`
	Actor         string                `gorm:"size:64" json:"actor"`

	PublishStatus    string     `gorm:"size:16;index;not null;default:PENDING" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:36" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerEventRecord) TableName() string {
	return "ledger_event_records"
}

func MigrateOutbox(db *gorm.DB) error {
	return db.AutoMigrate(&LedgerEventRecord{})
}

// RecordLedgerEvent appends an outbox row. A nil db (dev mode, unit tests)
// makes this a no-op; recording failures are returned so the caller can log
// them, but they must never affect the primary write's outcome.
func RecordLedgerEvent(ctx context.Context, db *gorm.DB, collection string, documentId string,
	action LedgerEventAction, sideEffect LedgerEventSideEffect, oldObj, newObj interface{}, sideEffectErr error) error {

	if db == nil {
		return nil
	}

	var oldJSON, newJSON []byte
	if oldObj != nil {
		s, err := utils.MarshalToJSON(oldObj)
		if err != nil {
			return err
		}
		oldJSON = []byte(s)
	}
	if newObj != nil {
		s, err := utils.MarshalToJSON(newObj)
		if err != nil {
			return err
		}
		newJSON = []byte(s)
	}

	rec := LedgerEventRecord{
		Collection:    collection,
		DocumentId:    documentId,
		Action:        action,
		SideEffect:    sideEffect,
		OccurredAt:    time.Now().UTC(),
		OldObj:        oldJSON,
		NewObj:        newJSON,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	if ctx != nil {
		if actor, ok := utils.GetActorFromContext(ctx); ok {
			rec.Actor = actor
		}
	}
	if sideEffectErr != nil {
		msg := sideEffectErr.Error()
		rec.SideEffectErr = &msg
	}
	return db.WithContext(ctx).Create(&rec).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToLedgerEventMessage(rec LedgerEventRecord) config.LedgerEventMessage {
	msg := config.LedgerEventMessage{
		ID:            rec.ID,
		Collection:    rec.Collection,
		DocumentId:    rec.DocumentId,
		Action:        string(rec.Action),
		SideEffect:    string(rec.SideEffect),
		OccurredAt:    rec.OccurredAt,
		OldObj:        rec.OldObj,
		NewObj:        rec.NewObj,
		CorrelationId: rec.CorrelationId,
		Actor:         rec.Actor,
	}
	if rec.SideEffectErr != nil {
		msg.SideEffectErr = *rec.SideEffectErr
	}
	return msg
}
