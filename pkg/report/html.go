// Package report renders a test run as a self-contained HTML page.
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/logger"
)

// Assets loads stored screenshots. artifacts.Store satisfies it.
type Assets interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	Title       string // Report title (default: "Run Report")
	EmbedAssets bool   // Embed screenshots as base64 (makes file larger but portable)
	// ScreenshotURL links screenshots instead of embedding them
	ScreenshotURL func(runID string, index int) string
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title       string
	GeneratedAt string
	Run         *core.TestRun
	Test        *core.Test
	Summary     core.Summary
	StatusClass string
	Duration    string
	Steps       []StepHTMLData
	JSONData    template.JS // Raw run for scripting
}

// StepHTMLData contains step data formatted for HTML.
type StepHTMLData struct {
	core.Step
	VerdictClass  string
	Time          string
	Screenshot    template.URL // data URL or link
	HasScreenshot bool
	Pending       bool // Advisory check not finished
}

// Generate renders run into the file at path.
func Generate(ctx context.Context, path string, run *core.TestRun, test *core.Test, assets Assets, cfg HTMLConfig) error {
	var buf bytes.Buffer
	if err := Render(ctx, &buf, run, test, assets, cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// Render writes the HTML report of run to w. test may be nil.
func Render(ctx context.Context, w io.Writer, run *core.TestRun, test *core.Test, assets Assets, cfg HTMLConfig) error {
	if cfg.Title == "" {
		cfg.Title = "Run Report"
	}
	data, err := buildHTMLData(ctx, run, test, assets, cfg)
	if err != nil {
		return err
	}
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

func buildHTMLData(ctx context.Context, run *core.TestRun, test *core.Test, assets Assets, cfg HTMLConfig) (HTMLData, error) {
	steps := make([]StepHTMLData, len(run.Steps))
	for i, st := range run.Steps {
		sd := StepHTMLData{
			Step:         st,
			VerdictClass: verdictClass(st),
			Time:         st.Timestamp.Format("15:04:05"),
			Pending:      st.IssuesAnalyzedAt == nil,
		}
		switch {
		case cfg.EmbedAssets && assets != nil && st.Screenshot != "":
			data, err := assets.Get(ctx, st.Screenshot)
			if err != nil {
				logger.Warn("report: screenshot %s unavailable: %v", st.Screenshot, err)
				break
			}
			sd.Screenshot = template.URL(dataURL(core.ContentTypeJPEG, data))
			sd.HasScreenshot = true
		case cfg.ScreenshotURL != nil:
			sd.Screenshot = template.URL(cfg.ScreenshotURL(run.ID, st.Index))
			sd.HasScreenshot = true
		}
		steps[i] = sd
	}

	jsonBytes, err := json.Marshal(run)
	if err != nil {
		return HTMLData{}, fmt.Errorf("marshal run: %w", err)
	}

	return HTMLData{
		Title:       cfg.Title,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Run:         run,
		Test:        test,
		Summary:     run.Summarize(),
		StatusClass: statusClass(run.Status),
		Duration:    formatDuration(run.Duration()),
		Steps:       steps,
		JSONData:    template.JS(jsonBytes),
	}, nil
}

func statusClass(s core.RunStatus) string {
	switch s {
	case core.RunCompleted:
		return "passed"
	case core.RunQuit:
		return "failed"
	default:
		return "running"
	}
}

func verdictClass(st core.Step) string {
	switch {
	case st.Suppressed:
		return "skipped"
	case st.Verdict.Kind == core.VerdictPass:
		return "passed"
	default:
		return "failed"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func dataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-secondary: rgb(75, 85, 99);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --passed-bg: rgba(34, 197, 94, 0.1);
            --failed: #ef4444;
            --failed-bg: rgba(239, 68, 68, 0.08);
            --skipped: #eab308;
            --skipped-bg: rgba(234, 179, 8, 0.1);
            --running: #06b6d4;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }
        .header {
            background: var(--bg-secondary);
            border-bottom: 1px solid var(--border-color);
            padding: 16px 24px;
        }
        .header h1 { font-size: 18px; font-weight: 600; }
        .header .sub { font-size: 12px; color: var(--text-secondary); }
        .badge { display: inline-block; padding: 2px 10px; border-radius: 10px; font-size: 12px; font-weight: 600; }
        .badge.passed { color: var(--passed); background: var(--passed-bg); }
        .badge.failed { color: var(--failed); background: var(--failed-bg); }
        .badge.skipped { color: var(--skipped); background: var(--skipped-bg); }
        .badge.running { color: var(--running); }
        .summary { display: flex; gap: 24px; padding: 16px 24px; border-bottom: 1px solid var(--border-color); }
        .summary .stat { display: flex; flex-direction: column; }
        .summary .value { font-size: 20px; font-weight: 600; }
        .summary .label { font-size: 12px; color: var(--text-secondary); }
        .instruction { padding: 16px 24px; white-space: pre-wrap; }
        .steps { padding: 0 24px 24px; }
        .step {
            display: grid;
            grid-template-columns: 220px 1fr;
            gap: 16px;
            border: 1px solid var(--border-color);
            border-radius: 8px;
            padding: 12px;
            margin-top: 12px;
        }
        .step img { width: 100%; border-radius: 4px; border: 1px solid var(--border-color); }
        .step .meta { font-size: 12px; color: var(--text-secondary); }
        .step .thought { margin-top: 6px; white-space: pre-wrap; }
        .step code { display: block; margin-top: 6px; padding: 6px; background: var(--bg-secondary); border-radius: 4px; font-size: 13px; }
        .issues { margin-top: 8px; font-size: 13px; }
        .issues li { margin-left: 18px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}} <span class="badge {{.StatusClass}}">{{.Run.Status}}</span></h1>
        <div class="sub">Run {{.Run.ID}}{{if .Test}} &middot; {{.Test.Name}} on {{.Test.DeviceID}}{{end}} &middot; generated {{.GeneratedAt}}</div>
        {{if .Run.Reason}}<div class="sub">{{.Run.Reason}}</div>{{end}}
    </div>
    <div class="summary">
        <div class="stat"><span class="value">{{.Summary.Steps}}</span><span class="label">Steps</span></div>
        <div class="stat"><span class="value">{{.Summary.Suppressed}}</span><span class="label">Suppressed</span></div>
        <div class="stat"><span class="value">{{.Summary.Issues}}</span><span class="label">Visual issues</span></div>
        <div class="stat"><span class="value">{{.Summary.Pending}}</span><span class="label">Pending checks</span></div>
        <div class="stat"><span class="value">{{.Duration}}</span><span class="label">Duration</span></div>
    </div>
    {{if .Test}}<div class="instruction">{{.Test.Instruction}}</div>{{end}}
    <div class="steps">
    {{range .Steps}}
        <div class="step" id="step-{{.Index}}">
            <div>{{if .HasScreenshot}}<img src="{{.Screenshot}}" alt="Step {{.Index}}">{{end}}</div>
            <div>
                <div class="meta">
                    Step {{.Index}} &middot; {{.Time}}
                    <span class="badge {{.VerdictClass}}">{{.Verdict.Kind}}</span>
                    {{if .Verdict.Reason}}{{.Verdict.Reason}}{{end}}
                </div>
                <div class="thought">{{.Thought}}</div>
                <code>{{.Action}}</code>
                {{if .Issues}}
                <ul class="issues">
                    {{range .Issues}}<li><strong>{{.Summary}}</strong> ({{.Confidence}}/10) {{.Details}}</li>{{end}}
                </ul>
                {{else if .Pending}}<div class="issues meta">Visual check pending</div>{{end}}
            </div>
        </div>
    {{end}}
    </div>
    <script>window.__RUN__ = {{.JSONData}};</script>
</body>
</html>
`
