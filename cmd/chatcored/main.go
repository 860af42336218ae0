package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"chatcore/internal/daemon"
	"chatcore/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, ConfigPath: *configFlag}),
	)

	app.Run()
}
