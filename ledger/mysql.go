package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/config"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRecord is the MySQL row backing one ledger document. The payload
// stays schemaless JSON on purpose: historical documents are never migrated,
// they are normalized on read.
type DocumentRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Collection string    `gorm:"size:32;index:idx_ledger_coll_created,priority:1;not null" json:"collection"`
	Data       []byte    `gorm:"type:json" json:"data"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_ledger_coll_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DocumentRecord) TableName() string {
	return "ledger_documents"
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&DocumentRecord{})
}

// MySQL stores documents in a single GORM-managed table and fans change
// notifications out over a Redis channel per collection. Subscribers re-list
// the collection on every notification, so they always observe a
// full-collection snapshot in write order.
type MySQL struct {
	DB *gorm.DB
}

func NewMySQL(db *gorm.DB) *MySQL {
	return &MySQL{DB: db}
}

func changeChannel(c Collection) string {
	return "ledger:changed:" + string(c)
}

func (s *MySQL) ListAll(ctx context.Context, c Collection) ([]Document, error) {
	var records []DocumentRecord
	if err := s.DB.WithContext(ctx).
		Where("collection = ?", string(c)).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, decodeRecord(rec))
	}
	return docs, nil
}

func (s *MySQL) Get(ctx context.Context, c Collection, id string) (Document, error) {
	var rec DocumentRecord
	err := s.DB.WithContext(ctx).
		Where("collection = ? AND id = ?", string(c), id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec), nil
}

func (s *MySQL) Insert(ctx context.Context, c Collection, doc Document) (string, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	data, err := json.Marshal(map[string]interface{}(stored))
	if err != nil {
		return "", err
	}
	rec := DocumentRecord{
		ID:         id,
		Collection: string(c),
		Data:       data,
	}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", err
	}
	s.notify(ctx, c, id)
	return id, nil
}

func (s *MySQL) Update(ctx context.Context, c Collection, id string, partial Document) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec DocumentRecord
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND id = ?", string(c), id).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		if err != nil {
			return err
		}
		doc := decodeRecord(rec)
		for k, v := range partial {
			if k == "id" {
				continue
			}
			doc[k] = v
		}
		data, err := json.Marshal(map[string]interface{}(doc))
		if err != nil {
			return err
		}
		return tx.Model(&DocumentRecord{}).
			Where("collection = ? AND id = ?", string(c), id).
			Update("data", data).Error
	})
	if err != nil {
		return err
	}
	s.notify(ctx, c, id)
	return nil
}

func (s *MySQL) Delete(ctx context.Context, c Collection, id string) error {
	result := s.DB.WithContext(ctx).
		Where("collection = ? AND id = ?", string(c), id).
		Delete(&DocumentRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	s.notify(ctx, c, id)
	return nil
}

// notify is best effort: a missed notification only delays the next snapshot
// until the following write, it never loses data.
func (s *MySQL) notify(ctx context.Context, c Collection, id string) {
	if err := config.PublishChange(ctx, changeChannel(c), id); err != nil {
		config.LogError(config.GetLogger(), "ledger", "notify",
			fmt.Sprintf("publish change notification for %s", c), id, err)
	}
}

func (s *MySQL) Subscribe(c Collection, onSnapshot func(docs []Document), onError func(err error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	// After cancellation nothing may reach the callbacks, including the
	// context error itself.
	emitSnapshot := func(docs []Document) {
		if ctx.Err() == nil {
			onSnapshot(docs)
		}
	}
	emitError := func(err error) {
		if ctx.Err() == nil {
			onError(err)
		}
	}

	go func() {
		defer close(stopped)

		docs, err := s.ListAll(ctx, c)
		if err != nil {
			emitError(err)
			return
		}
		emitSnapshot(docs)

		ps := config.SubscribeChanges(ctx, changeChannel(c))
		if ps == nil {
			emitError(errors.New("redis not connected; change subscription unavailable"))
			return
		}
		defer ps.Close()

		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					emitError(errors.New("change notification channel closed"))
					return
				}
				docs, err := s.ListAll(ctx, c)
				if err != nil {
					emitError(err)
					return
				}
				emitSnapshot(docs)
			}
		}
	}()

	return func() {
		cancel()
		<-stopped
	}
}

func decodeRecord(rec DocumentRecord) Document {
	doc := Document{}
	if len(rec.Data) > 0 {
		// Corrupt payloads degrade to an id-only document rather than failing
		// the whole listing.
		_ = utils.UnmarshalFromJSON(rec.Data, &doc)
	}
	doc["id"] = rec.ID
	return doc
}
