package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordLogger struct {
	records [][]any
}

func (r *recordLogger) Log(level Level, keyvals ...any) error {
	r.records = append(r.records, append([]any{level}, keyvals...))
	return nil
}

func TestFilterLevel(t *testing.T) {
	rec := &recordLogger{}
	h := NewHelper(NewFilter(rec, FilterLevel(LevelWarn)))

	h.Debugf("dropped %d", 1)
	h.Infof("dropped %d", 2)
	h.Warnf("kept %d", 3)

	assert.Len(t, rec.records, 1)
	assert.Equal(t, LevelWarn, rec.records[0][0])
	assert.Equal(t, "kept 3", rec.records[0][2])
	assert.False(t, h.Enabled(LevelInfo))
}

func TestWithValuer(t *testing.T) {
	type ctxKey struct{}

	rec := &recordLogger{}
	l := With(rec, "trace", Valuer(func(ctx context.Context) any {
		return ctx.Value(ctxKey{})
	}))

	h := NewHelper(l).WithContext(context.WithValue(context.Background(), ctxKey{}, "abc"))
	h.Infof("hello")

	assert.Len(t, rec.records, 1)
	assert.Equal(t, []any{LevelInfo, "trace", "abc", "msg", "hello"}, rec.records[0])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
