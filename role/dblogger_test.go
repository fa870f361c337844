package role

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGormLogger_Trace(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	gormLogger := GormLogger{Log: zerolog.New(&buf)}

	gormLogger.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	assert.Contains(buf.String(), `"sql":"SELECT 1"`)
	assert.Contains(buf.String(), `"rows":1`)
	assert.Contains(buf.String(), `"level":"trace"`)
}

func TestGormLogger_TraceError(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	gormLogger := GormLogger{Log: zerolog.New(&buf)}

	gormLogger.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 0
	}, errors.New("connection reset"))

	assert.Contains(buf.String(), `"level":"error"`)
	assert.Contains(buf.String(), `"error":"connection reset"`)
}
