package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/report"
	"github.com/devicelab-dev/uiagent/pkg/store"
)

// cliUser owns tests registered from the command line
var cliUser = core.User{ID: "cli", Role: core.RoleAdmin}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run one instruction on a device and wait for the result",
	Description: `Register an ad-hoc test and run it in-process. Steps are printed as
they are recorded. The exit code is non-zero unless the run completes.

Examples:
  uiagent run --device emulator-5554 --instruction "Open settings"
  uiagent run -i "Add a milk item to the list" --setup-cmd "am start -n com.example/.Main" --report out.html`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "instruction",
			Aliases:  []string{"i"},
			Usage:    "What the agent should accomplish",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "Device serial (default: the only online device)",
			EnvVars: []string{"ANDROID_SERIAL"},
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Test name shown in reports",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Run timeout (default: agent.default_timeout)",
		},
		&cli.StringFlag{
			Name:  "setup-cmd",
			Usage: "Shell command run once on the device before the loop",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write an HTML report to this path",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	serial := c.String("device")
	if serial == "" {
		if serial, err = onlyDevice(ctx, rt.device); err != nil {
			return err
		}
	}

	run, err := executeRun(ctx, rt, adhocTest{
		Name:         c.String("name"),
		Instruction:  c.String("instruction"),
		Serial:       serial,
		Timeout:      c.Duration("timeout"),
		SetupCommand: c.String("setup-cmd"),
	}, c.App.Writer)
	if err != nil {
		return err
	}
	printSummary(c.App.Writer, run)

	if path := c.String("report"); path != "" {
		test, _ := rt.store.GetTest(context.Background(), run.TestID)
		if err := report.Generate(context.Background(), path, run, test, rt.artifacts, report.HTMLConfig{EmbedAssets: true}); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "  %s⚠%s failed to write report: %v\n", color(colorYellow), color(colorReset), err)
		} else {
			fmt.Fprintf(c.App.Writer, "  Report:   %s\n", path)
		}
	}

	if run.Status != core.RunCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

// adhocTest describes a test registered from flags
type adhocTest struct {
	Name         string
	Instruction  string
	Serial       string
	Timeout      time.Duration
	SetupCommand string
}

// executeRun registers t, runs it to a terminal status and returns the
// stored run. Cancelling ctx stops the run.
func executeRun(ctx context.Context, rt *runtime, t adhocTest, w io.Writer) (*core.TestRun, error) {
	test := &core.Test{
		ID:             uuid.NewString(),
		UserID:         cliUser.ID,
		Name:           t.Name,
		Instruction:    t.Instruction,
		DeviceID:       t.Serial,
		State:          core.TestReady,
		TimeoutSeconds: int(t.Timeout.Round(time.Second) / time.Second),
		SetupCommand:   t.SetupCommand,
		CreatedAt:      time.Now().UTC(),
	}
	if test.Name == "" {
		test.Name = truncate(test.Instruction, 40)
	}
	if err := rt.store.CreateTest(ctx, test); err != nil {
		return nil, err
	}

	rt.deps.Events = &stepPrinter{next: rt.deps.Events, store: rt.store, w: w}
	sup := rt.supervisor()

	fmt.Fprintf(w, "\n%sRun%s on %s: %s\n", color(colorBold), color(colorReset), t.Serial, test.Instruction)
	runID, err := sup.Create(ctx, test.ID, cliUser)
	if err != nil {
		return nil, err
	}

	done, exited := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			if err := sup.Stop(context.Background(), runID, cliUser); err == nil {
				fmt.Fprintf(w, "\n  %sinterrupted, stopping run%s\n", color(colorYellow), color(colorReset))
			}
		case <-done:
		}
	}()
	_ = sup.Wait(context.Background(), runID)
	close(done)
	<-exited

	// Advisory checks finish after the loop; give them the advisory timeout
	sctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Agent.AdvisoryTimeout+5*time.Second)
	defer cancel()
	if err := sup.Shutdown(sctx); err != nil {
		logger.Warn("waiting for background checks: %v", err)
	}

	return rt.store.GetRun(context.Background(), runID)
}

// stepPrinter prints each recorded step, then forwards the event.
type stepPrinter struct {
	next  events.Publisher
	store store.Store
	w     io.Writer
}

func (p *stepPrinter) Publish(ctx context.Context, ev events.Event) error {
	if ev.Type == events.StepAppended {
		if run, err := p.store.GetRun(ctx, ev.RunID); err == nil && ev.StepIndex < len(run.Steps) {
			printStep(p.w, run.Steps[ev.StepIndex])
		}
	}
	return p.next.Publish(ctx, ev)
}

func (p *stepPrinter) Close() error {
	return p.next.Close()
}

// onlyDevice returns the serial of the single online device.
func onlyDevice(ctx context.Context, e device.Executor) (string, error) {
	devices, err := device.ListDevices(ctx, e)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	var online []string
	for _, d := range devices {
		if d.Online() {
			online = append(online, d.Serial)
		}
	}
	switch len(online) {
	case 0:
		return "", fmt.Errorf("no online device found")
	case 1:
		return online[0], nil
	default:
		return "", fmt.Errorf("several devices online (%s), pick one with --device", strings.Join(online, ", "))
	}
}
