package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pullover/internal/app"
	logx "pullover/pkg/logx"
)

func main() {
	var (
		cfgPath    string
		register   bool
		email      string
		deviceName string
	)
	flag.StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file (yaml or json)")
	flag.BoolVar(&register, "register", false, "register this machine as a new device and exit")
	flag.StringVar(&email, "email", "", "account email (with -register)")
	flag.StringVar(&deviceName, "device-name", "", "device name to register (with -register; default: hostname)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if register {
		log := logx.NewConsole("INFO")
		err := app.Register(ctx, app.RegisterOptions{
			ConfigPath: cfgPath,
			Email:      email,
			DeviceName: deviceName,
		}, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, "register failed:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/pullover/config.yaml"
	}
	return "./pullover.yaml"
}
