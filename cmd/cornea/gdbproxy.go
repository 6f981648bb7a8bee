package main

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/teris-io/shortid"
	"github.com/urfave/cli"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/gdbbridge"
	"github.com/Linaro/lite-cornea/internal/nlog"
)

var gdbProxyCmd = cli.Command{
	Name:      "gdb-proxy",
	Usage:     "run a GDB remote bridge for one CPU instance over stdio or a TCP port",
	ArgsUsage: "INSTANCE",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "p, port", Usage: "listen on this TCP port instead of stdio"},
	},
	Action: gdbProxyHandler,
}

// gdbProxyHandler wires component C7 (internal/gdbbridge) to either the
// process's own stdio (the "target remote | cornea gdb-proxy INSTANCE"
// pipe-program convention) or a single TCP connection accepted on
// --port, matching GDB's ordinary "target remote :PORT" usage.
func gdbProxyHandler(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("gdb-proxy requires INSTANCE", 1)
	}
	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instID, err := sess.cat.LookupPath(ctx, c.Args().First())
	if err != nil {
		return err
	}

	sid, err := shortid.Generate()
	if err != nil {
		sid = "????"
	}

	var in io.Reader
	var out io.Writer
	var closeStream func()

	if port := c.Int("port"); port != 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		nlog.Infof("gdb-proxy[%s]: listening on %s for instance %s", sid, ln.Addr(), c.Args().First())
		gconn, err := ln.Accept()
		_ = ln.Close()
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		in, out = gconn, gconn
		closeStream = func() { _ = gconn.Close() }
	} else {
		in, out = os.Stdin, os.Stdout
		closeStream = func() {}
	}
	defer closeStream()

	bridge, err := gdbbridge.New(ctx, sess.conn, sess.cat, instID, in, out, sess.cfg.RegTableDir, sess.cfg.EventQueueDepth)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	defer bridge.Close()

	nlog.Infof("gdb-proxy[%s]: bridging instance %s (id %d)", sid, c.Args().First(), instID)
	if err := bridge.Run(ctx); err != nil {
		return cli.NewExitError(err.Error(), gdbRunExitCode(err))
	}
	return nil
}

// gdbRunExitCode maps bridge.Run's error to spec.md §6's exit-code split:
// 1 for an I/O condition on the GDB stream (clean EOF or the Iris
// connection dropping out from under the bridge), 2 for anything the
// bridge itself judged an unrecoverable GDB protocol violation.
func gdbRunExitCode(err error) int {
	if err == io.EOF || cos.IsDisconnected(err) {
		return 1
	}
	return 2
}
