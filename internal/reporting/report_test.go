package reporting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvr-etl/internal/pipeline"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage/memory"
	"mvr-etl/internal/transform"
)

var fixedTime = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

const input = `Date,Open_M,High_M,Low_M,Close_M,Adj Close_M,Volume_M,Open_V,High_V,Low_V,Close_V,Adj Close_V,Volume_V
2024-02-01,400,410,395,405,405,1000,250,255,248,252,252,2000
2024-02-01,400,410,395,405,405,1000,250,255,248,252,252,2000
2024-02-02,401,411,396,406,406,1000,251,256,249,253,253,2000
2024-02-03,402,412,397,,407,1000,252,257,250,254,254,2000
not a date,403,413,398,408,408,1000,253,258,251,255,255,2000
2024-02-05,404,414,399,409,409,0,254,259,252,256,256,2000
`

func runPipeline(t *testing.T, store *memory.TableStore) *Collector {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "MVR.csv")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o644))

	c := NewCollector().WithClock(func() time.Time { return fixedTime })
	p, err := pipeline.New(pipeline.Options{
		Table:            schema.MVR(""),
		InputPath:        in,
		IntermediatePath: filepath.Join(dir, "MVR_transformed.csv"),
		Engine:           transform.NewEngine(transform.DefaultOptions(), nil),
		Targets:          []pipeline.Target{{Name: "memory", Provisioner: store, Loader: store}},
		Notifier:         c,
		RunID:            "run-1",
	})
	require.NoError(t, err)
	_, _ = p.RunAll(context.Background())
	return c
}

func TestCollector_SuccessfulRun(t *testing.T) {
	r := runPipeline(t, memory.NewTableStore()).Report(schema.DefaultTableName)

	assert.True(t, r.Succeeded)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, fixedTime, r.GeneratedAt)
	require.Len(t, r.Stages, 3)
	assert.Equal(t, "load_data", r.Stages[2].Stage)
	assert.Equal(t, int64(2), r.RowsLoad)
	assert.NotEmpty(t, r.Checksum)

	require.NotNil(t, r.Transform)
	assert.Equal(t, 6, r.Transform.RowsRead)
	assert.Equal(t, 1, r.Transform.DroppedDuplicate)
	assert.Equal(t, 1, r.Transform.DroppedIncomplete)
	assert.Equal(t, 1, r.Transform.DroppedBadDate)
	assert.Equal(t, 1, r.Transform.DroppedVolume)
	assert.Equal(t, 2, r.Transform.RowsEmitted)

	md := RenderMarkdown(r)
	assert.Contains(t, md, "**Status: SUCCESS**")
	assert.Contains(t, md, "| Rows Read | 6 |")
	assert.Contains(t, md, "| Retention | 33.33% |")
	assert.Contains(t, md, "Table MVR replaced with 2 rows.")
}

func TestCollector_FailedRun(t *testing.T) {
	store := memory.NewTableStore()
	store.SetUnreachable(true)
	r := runPipeline(t, store).Report(schema.DefaultTableName)

	assert.False(t, r.Succeeded)
	require.Len(t, r.Stages, 1)
	assert.Equal(t, "failure", r.Stages[0].Outcome)
	assert.NotEmpty(t, r.Stages[0].Error)
	assert.Nil(t, r.Transform)

	md := RenderMarkdown(r)
	assert.Contains(t, md, "**Status: INCOMPLETE**")
	assert.Contains(t, md, "Transform did not complete in this run.")
	assert.Contains(t, md, "Table contents were not replaced by this run.")
}

func TestBuild_RetryBeforeSuccess(t *testing.T) {
	events := []pipeline.Event{
		{RunID: "r", Stage: pipeline.StageLoadData, Outcome: pipeline.OutcomeRetry, Attempt: 2, Err: errors.New("timeout | reset")},
		{RunID: "r", Stage: pipeline.StageLoadData, Outcome: pipeline.OutcomeSuccess, Rows: 9},
	}
	r := Build("MVR", events, fixedTime)

	assert.True(t, r.Succeeded)
	assert.Equal(t, int64(9), r.RowsLoad)
	assert.Contains(t, RenderMarkdown(r), `| load_data | retry | 2 | 0 | 0s | timeout \| reset |`)
}

func TestRenderCSV(t *testing.T) {
	r := Build("MVR", []pipeline.Event{
		{RunID: "r", Stage: pipeline.StageCreateTable, Outcome: pipeline.OutcomeSuccess, Message: "table MVR ready, 1 store", Duration: 1500 * time.Millisecond},
	}, fixedTime)

	out, err := RenderCSV(r)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "run_id,stage,outcome,attempt,rows,duration_ms,message,error", lines[0])
	assert.Equal(t, `r,create_table,success,0,0,1500,"table MVR ready, 1 store",`, lines[1])
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := runPipeline(t, memory.NewTableStore()).Report(schema.DefaultTableName)

	require.NoError(t, WriteFiles(dir, r))

	md, err := os.ReadFile(filepath.Join(dir, MarkdownFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Run Report"))

	_, err = os.Stat(filepath.Join(dir, CSVFile))
	assert.NoError(t, err)
}
