package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const (
	appName  = "cornea"
	appUsage = "inspect and debug ARM Fast Model / FVP instances over Iris"
)

// color helpers, mirroring cmd/cli/cli/app.go's fred/fcyan/fgreen
// SprintFunc trio: plain fmt.Sprint when output isn't a terminal (or
// CORNEA_NO_COLOR is set), colorized otherwise.
var fred, fgreen, fcyan func(a ...any) string

func noColor() bool {
	if os.Getenv("CORNEA_NO_COLOR") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stdout.Fd()))
}

func init() {
	if noColor() {
		fred, fgreen, fcyan = fmt.Sprint, fmt.Sprint, fmt.Sprint
	} else {
		fred = color.New(color.FgHiRed).SprintFunc()
		fgreen = color.New(color.FgHiGreen).SprintFunc()
		fcyan = color.New(color.FgHiCyan).SprintFunc()
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = appUsage
	app.HideHelp = false
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "host", Usage: "Iris server host, overrides CORNEA_IRIS_HOST"},
		cli.IntFlag{Name: "port", Usage: "Iris server port, overrides CORNEA_IRIS_PORT"},
	}
	app.Commands = []cli.Command{
		childListCmd,
		resourceListCmd,
		resourceReadCmd,
		memoryReadCmd,
		eventSourcesCmd,
		eventFieldsCmd,
		eventLogCmd,
		gdbProxyCmd,
	}
	return app
}
