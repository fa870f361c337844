package module

import (
	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
)

type JSONB = pgtype.JSONB

// NullJSONB is the value to persist when no metadata was collected. The
// zero pgtype.JSONB has Undefined status and fails to encode.
func NullJSONB() JSONB {
	return JSONB{Status: pgtype.Null}
}

func NewJSONB(value interface{}) (JSONB, error) {
	jsonb := JSONB{}

	err := jsonb.Set(value)
	if err != nil {
		return jsonb, errors.Wrap(err, "failed to set jsonb value")
	}

	return jsonb, nil
}
