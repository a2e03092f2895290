package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sodaframework/soda/core/logger"
)

func TestError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))

	attr := logger.Error(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())
}

func TestErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))

	attr := logger.Errors(errors.New("first"), nil, errors.New("third"))
	assert.Equal(t, "errors", attr.Key)
	group := attr.Value.Group()
	assert.Len(t, group, 2)
	assert.Equal(t, "0", group[0].Key)
	assert.Equal(t, "2", group[1].Key)
}

func TestIdentifierAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.RequestID(""))
	assert.Equal(t, slog.Attr{}, logger.EventID(""))
	assert.Equal(t, slog.Attr{}, logger.Handler(""))

	assert.Equal(t, "req-1", logger.RequestID("req-1").Value.String())
	assert.Equal(t, "evt-1", logger.EventID("evt-1").Value.String())
	assert.Equal(t, "notify", logger.Handler("notify").Value.String())
}

func TestDuration(t *testing.T) {
	t.Parallel()

	attr := logger.Duration(time.Second)
	assert.Equal(t, "duration", attr.Key)
	assert.Equal(t, time.Second, attr.Value.Duration())
}

func TestCount(t *testing.T) {
	t.Parallel()

	attr := logger.Count("removed", 7)
	assert.Equal(t, "removed", attr.Key)
	assert.Equal(t, int64(7), attr.Value.Int64())
}
