package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

type assetMap map[string][]byte

func (m assetMap) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func sampleRun() *core.TestRun {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	analyzed := start.Add(time.Minute)
	return &core.TestRun{
		ID:        "run-1",
		TestID:    "t1",
		Status:    core.RunQuit,
		Reason:    "App crashed: <home screen>",
		StartedAt: start,
		EndedAt:   &end,
		Steps: []core.Step{
			{
				Index:            0,
				Screenshot:       core.ScreenshotKey("run-1", 0),
				Thought:          "Tap the settings icon",
				Action:           "click(point='<point>10 20</point>')",
				Verdict:          core.Verdict{Kind: core.VerdictPass},
				Issues:           []core.Issue{{Summary: "Label truncated", Details: "Title is cut off", Confidence: 8}},
				IssuesAnalyzedAt: &analyzed,
				Timestamp:        start,
			},
			{
				Index:      1,
				Screenshot: core.ScreenshotKey("run-1", 1),
				Thought:    "Wait",
				Action:     "press_back()",
				Verdict:    core.Verdict{Kind: core.VerdictLoading},
				Suppressed: true,
				Timestamp:  start.Add(5 * time.Second),
			},
		},
	}
}

func TestRender(t *testing.T) {
	run := sampleRun()
	test := &core.Test{ID: "t1", Name: "Settings", DeviceID: "emulator-5554", Instruction: "Open settings"}
	assets := assetMap{core.ScreenshotKey("run-1", 0): []byte{0xff, 0xd8, 0xff}}

	var buf bytes.Buffer
	require.NoError(t, Render(context.Background(), &buf, run, test, assets, HTMLConfig{EmbedAssets: true}))
	html := buf.String()

	assert.Contains(t, html, "<title>Run Report</title>")
	assert.Contains(t, html, "Open settings")
	assert.Contains(t, html, "Tap the settings icon")
	assert.Contains(t, html, "Label truncated")
	assert.Contains(t, html, "data:image/jpeg;base64,")
	assert.Contains(t, html, "1m 30s")
	// Reasons are escaped
	assert.Contains(t, html, "App crashed: &lt;home screen&gt;")
	assert.Equal(t, 1, strings.Count(html, "<img "), "missing screenshot is skipped")
	assert.Contains(t, html, "Visual check pending")
}

func TestRender_LinkedScreenshots(t *testing.T) {
	var buf bytes.Buffer
	cfg := HTMLConfig{
		Title: "Nightly",
		ScreenshotURL: func(runID string, index int) string {
			return "/v1/runs/" + runID + "/steps/" + string(rune('0'+index)) + "/screenshot"
		},
	}
	require.NoError(t, Render(context.Background(), &buf, sampleRun(), nil, nil, cfg))

	html := buf.String()
	assert.Contains(t, html, "<title>Nightly</title>")
	assert.Contains(t, html, `src="/v1/runs/run-1/steps/1/screenshot"`)
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, Generate(context.Background(), path, sampleRun(), nil, nil, HTMLConfig{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run-1")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{2500 * time.Millisecond, "2.5s"},
		{125 * time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
