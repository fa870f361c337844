package labels

import (
	"context"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DealLabel is one cached label per finalized deal. Labels are immutable
// once a deal is on chain, so entries are cached indefinitely and never
// invalidated.
type DealLabel struct {
	DealID     int64     `json:"deal_id" gorm:"primarykey"`
	PieceCid   string    `json:"piece_cid"`
	LabelRaw   *string   `json:"label_raw,omitempty"`
	PayloadCid *string   `json:"payload_cid,omitempty"`
	FetchedAt  time.Time `json:"fetched_at" gorm:"autoCreateTime"`
}

func (DealLabel) TableName() string {
	return "deal_labels"
}

// Cache is an append-only store of deal labels. There is deliberately no
// update path.
type Cache struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewCache(db *gorm.DB) (*Cache, error) {
	err := db.AutoMigrate(&DealLabel{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot migrate deal labels")
	}

	return &Cache{
		db:  db,
		log: log2.With().Str("module", "labels").Caller().Logger(),
	}, nil
}

func (c *Cache) Get(ctx context.Context, dealID int64) (*DealLabel, error) {
	var label DealLabel

	err := c.db.WithContext(ctx).First(&label, "deal_id = ?", dealID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to get label for deal %d", dealID)
	}

	return &label, nil
}

func (c *Cache) GetBatch(ctx context.Context, dealIDs []int64) (map[int64]DealLabel, error) {
	found := make(map[int64]DealLabel, len(dealIDs))
	if len(dealIDs) == 0 {
		return found, nil
	}

	var rows []DealLabel

	err := c.db.WithContext(ctx).Where("deal_id IN ?", dealIDs).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to batch get deal labels")
	}

	for _, row := range rows {
		found[row.DealID] = row
	}

	return found, nil
}

// Put inserts the label if absent. Existing rows are left untouched.
func (c *Cache) Put(ctx context.Context, label *DealLabel) error {
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(label).Error
	if err != nil {
		return errors.Wrapf(err, "failed to cache label for deal %d", label.DealID)
	}

	return nil
}

// ParsePayloadCid extracts a payload cid from a raw deal label when the
// label is itself a cid. Anything else (UTF-8 notes, empty labels) yields
// nil.
func ParsePayloadCid(labelRaw string) *string {
	labelRaw = strings.TrimSpace(labelRaw)

	if !strings.HasPrefix(labelRaw, "bafy") &&
		!strings.HasPrefix(labelRaw, "bafk") &&
		!strings.HasPrefix(labelRaw, "Qm") {
		return nil
	}

	parsed, err := cid.Decode(labelRaw)
	if err != nil {
		return nil
	}

	payloadCid := parsed.String()
	return &payloadCid
}
