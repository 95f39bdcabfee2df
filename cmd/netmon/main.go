package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"netmon/internal/app"
	"netmon/internal/config"
	"netmon/internal/eventbus"
	"netmon/internal/metrics"
	"netmon/internal/monitor"
	"netmon/pkg/logx"
	"netmon/pkg/speedtest"
)

const usage = `usage: netmon <command> [flags]

commands:
  run          run the monitoring daemon (default)
  interfaces   list usable interfaces; -pick selects one and saves it
  ping <host>  send a short echo burst to host
  speedtest    run the speed-test cascade once
  check        run one health cycle on the configured interface
`

var (
	green  = color.New(color.FgHiGreen, color.Bold)
	cyan   = color.New(color.FgHiCyan)
	yellow = color.New(color.FgHiYellow)
	red    = color.New(color.FgHiRed)
)

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "interfaces":
		err = cmdInterfaces(args)
	case "ping":
		err = cmdPing(args)
	case "speedtest":
		err = cmdSpeedTest(args)
	case "check":
		err = cmdCheck(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		red.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func flags(name string, args []string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "./netmon.yaml", "path to config (json or yaml)")
	return fs, cfgPath
}

func cmdRun(args []string) error {
	fs, cfgPath := flags("run", args)
	_ = fs.Parse(args)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(*cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopAppStop
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// oneShot builds the monitoring stack for a single command, logging warnings to stderr.
func oneShot(cfgPath string) (*config.Config, *app.Components, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	comps, err := app.Build(cfg, app.BuildOptions{
		Log:      logx.NewWriter(logx.Stderr(), "warn"),
		Bus:      eventbus.Nop{},
		Notifier: monitor.NopNotifier{},
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, comps, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdInterfaces(args []string) error {
	fs, cfgPath := flags("interfaces", args)
	pick := fs.Bool("pick", false, "choose an interface and write it to the config")
	_ = fs.Parse(args)

	cfg, comps, err := oneShot(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	list, err := comps.Monitor.Interfaces(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return monitor.ErrNoInterface
	}

	if !*pick {
		for _, it := range list {
			marker := "  "
			if it.Name == cfg.Monitor.Interface {
				marker = "* "
			}
			cyan.Printf("%s%-12s", marker, it.Name)
			for _, a := range it.Addresses {
				fmt.Printf(" %s/%s", a.IP, a.Netmask)
			}
			fmt.Println()
		}
		return nil
	}

	items := make([]string, 0, len(list))
	for _, it := range list {
		label := it.Name
		if len(it.Addresses) > 0 {
			label += "  " + it.Addresses[0].IP
		}
		items = append(items, label)
	}
	prompt := promptui.Select{
		Label: "Interface to monitor",
		Items: items,
		Size:  len(items),
	}
	i, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		return err
	}
	name := list[i].Name
	if err := config.SetInterface(*cfgPath, name); err != nil {
		return err
	}
	green.Printf("  monitoring %s (saved to %s)\n", name, *cfgPath)
	return nil
}

func cmdPing(args []string) error {
	fs, cfgPath := flags("ping", args)
	count := fs.Int("c", 4, "echo requests to send")
	size := fs.Int("s", 0, "payload size in bytes")
	timeout := fs.Duration("W", 3*time.Second, "burst timeout")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: netmon ping [-c n] [-s bytes] [-W timeout] <host>")
	}
	host := fs.Arg(0)

	_, comps, err := oneShot(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	ms, ok := comps.Probe.Echo(ctx, host, *size, *count, *timeout)
	if !ok {
		red.Printf("  %s: no reply\n", host)
		return nil
	}
	green.Printf("  %s: avg %.2f ms\n", host, ms)
	return nil
}

func cmdSpeedTest(args []string) error {
	fs, cfgPath := flags("speedtest", args)
	_ = fs.Parse(args)

	_, comps, err := oneShot(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	yellow.Println("  running speed test...")
	res := comps.Orchestrator.Run(ctx)
	printResult(res)
	return nil
}

func printResult(res *speedtest.Result) {
	for _, at := range res.Attempts {
		fmt.Printf("  %-20s %s\n", at.Method, at.Error)
	}
	if res.IsError() {
		red.Println("  " + res.Summary())
		return
	}
	green.Println("  " + res.Summary())
	fmt.Printf("  took %.2fs\n", res.DurationSeconds)
}

func cmdCheck(args []string) error {
	fs, cfgPath := flags("check", args)
	_ = fs.Parse(args)

	cfg, comps, err := oneShot(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if _, err := comps.SelectConfigured(ctx, strings.TrimSpace(cfg.Monitor.Interface)); err != nil {
		return err
	}
	if err := comps.Monitor.RunCycle(ctx); err != nil {
		return err
	}
	printState(comps.Monitor.Status())
	return nil
}

func printState(st metrics.State) {
	c := red
	if st.Status == metrics.StatusOnline {
		c = green
	}
	c.Printf("  %s: %s\n", st.SelectedInterface, st.Status)
	fmt.Printf("  %s\n", st.StatusMessage)
	cyan.Printf("  gateway %-16s", st.Gateway)
	fmt.Println(speedtest.Float(st.LatencyMs, " ms"))
	cyan.Printf("  dns     %-16s", st.DNSHost)
	fmt.Println(speedtest.Float(st.DNSLatencyMs, " ms"))
	fmt.Printf("  rx %d bytes, tx %d bytes\n", st.Bandwidth.Rx, st.Bandwidth.Tx)
}
