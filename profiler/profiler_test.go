package profiler

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	p := New()
	p.Record("infer", 30*time.Millisecond)
	p.Record("infer", 10*time.Millisecond)
	p.Record("load", 5*time.Millisecond)

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "infer", stats[0].Name)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.Equal(t, 10*time.Millisecond, stats[0].Min)
	assert.Equal(t, 30*time.Millisecond, stats[0].Max)
	assert.Equal(t, 20*time.Millisecond, stats[0].Mean())
	assert.Equal(t, "load", stats[1].Name)
}

func TestStartOperation(t *testing.T) {
	p := New()
	done := p.StartOperation("score")
	done()
	stats := p.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Count)
	assert.GreaterOrEqual(t, stats[0].Total, time.Duration(0))
}

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	p.StartOperation("x")()
	p.Record("x", time.Second)
	assert.Nil(t, p.Stats())
	log, hook := test.NewNullLogger()
	p.Report(log)
	p.Start(context.Background(), time.Millisecond, log)()
	assert.Empty(t, hook.AllEntries())
	assert.Zero(t, OperationStats{}.Mean())
}

func TestReport(t *testing.T) {
	p := New()
	p.Record("infer", time.Millisecond)
	log, hook := test.NewNullLogger()
	p.Report(log)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "runtime", entries[0].Message)
	assert.Equal(t, "infer", entries[1].Data["operation"])
	assert.Equal(t, int64(1), entries[1].Data["count"])
}

func TestStart(t *testing.T) {
	p := New()
	p.Record("load", time.Millisecond)
	log, hook := test.NewNullLogger()
	stop := p.Start(context.Background(), 5*time.Millisecond, log)
	assert.Eventually(t, func() bool { return len(hook.AllEntries()) > 0 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
