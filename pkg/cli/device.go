package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uiagent/pkg/action"
	"github.com/devicelab-dev/uiagent/pkg/device"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List attached Android devices",
	Description: `List devices reported by adb with model, SDK and screen size.
Offline and unauthorized devices are skipped unless --all is set.

Examples:
  uiagent devices
  uiagent devices --all`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Include offline and unauthorized devices",
		},
	},
	Action: runDevices,
}

var parseActionCommand = &cli.Command{
	Name:      "parse-action",
	Usage:     "Parse an action line and print the device commands it maps to",
	ArgsUsage: "<action>",
	Description: `Debug tool for the action grammar. Coordinates are multiplied by
--scale, which stands in for the device/screenshot size ratio.

Examples:
  uiagent parse-action "click(point='<point>100 200</point>')"
  uiagent parse-action --scale 2 "scroll(point='(500,800)', direction='down')"`,
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:  "scale",
			Usage: "Coordinate scale",
			Value: 2,
		},
		&cli.StringFlag{
			Name:  "size",
			Usage: "Physical screen size WIDTHxHEIGHT, used to clamp gestures",
			Value: "1080x2400",
		},
	},
	Action: runParseAction,
}

func runDevices(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	adb, err := device.NewADB(cfg.Device.ADBPath)
	if err != nil {
		return err
	}
	return listDevices(c, adb, c.App.Writer)
}

func listDevices(c *cli.Context, e device.Executor, w io.Writer) error {
	devices, err := device.ListDevices(c.Context, e)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	resolver := device.NewScreenResolver(e, device.DefaultSize, len(devices)+1)
	shown := 0
	for _, d := range devices {
		if !d.Online() {
			if c.Bool("all") {
				fmt.Fprintf(w, "  %s%-20s %s%s\n", color(colorGray), d.Serial, d.State, color(colorReset))
				shown++
			}
			continue
		}
		device.Describe(c.Context, e, &d)
		d.Size = resolver.Size(c.Context, d.Serial)

		kind := "device"
		if d.IsEmulator {
			kind = "emulator"
		}
		fmt.Fprintf(w, "  %s%-20s%s %-9s %s %s (SDK %s) %dx%d\n",
			color(colorCyan), d.Serial, color(colorReset), kind,
			d.Brand, d.Model, d.SDK, d.Size.Width, d.Size.Height)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(w, "  No devices found")
	}
	return nil
}

func runParseAction(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("an action is required")
	}
	size, ok := device.ParseSize(c.String("size"))
	if !ok {
		return fmt.Errorf("invalid --size %q", c.String("size"))
	}
	return printPlan(c.App.Writer, text, action.Uniform(c.Float64("scale")), size)
}

func printPlan(w io.Writer, text string, scale action.Scale, size device.Size) error {
	cmd, err := action.Parse(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s%s%s %+v\n", color(colorBold), cmd.Verb(), color(colorReset), cmd)

	if _, ok := cmd.(action.Finished); ok {
		fmt.Fprintln(w, "  (no device command)")
		return nil
	}
	exec := action.NewExecutor(nil, "", scale, size, action.DefaultGestures())
	for _, argv := range exec.Plan(cmd) {
		fmt.Fprintf(w, "  adb %s\n", strings.Join(argv, " "))
	}
	return nil
}
