package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/iris"
	"github.com/Linaro/lite-cornea/internal/wire"
)

var childListCmd = cli.Command{
	Name:      "child-list",
	Usage:     "list children of an instance (or every root instance if omitted)",
	ArgsUsage: "[INSTANCE]",
	Action:    childListHandler,
}

// childListHandler implements spec.md S3: with no INSTANCE, prints every
// root instance's full path, one per line; with an INSTANCE, prints each
// child with the parent path prefix stripped (so "A.x" under "A" prints
// as ".x").
func childListHandler(c *cli.Context) error {
	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instPath := c.Args().First()
	children, err := sess.cat.Children(ctx, instPath)
	if err != nil {
		return err
	}
	for _, child := range children {
		if instPath == "" {
			fmt.Fprintln(c.App.Writer, child)
		} else {
			fmt.Fprintln(c.App.Writer, strings.TrimPrefix(child, instPath))
		}
	}
	return nil
}

var resourceListCmd = cli.Command{
	Name:      "resource-list",
	Usage:     "table of resource descriptors for an instance",
	ArgsUsage: "INSTANCE",
	Action:    resourceListHandler,
}

func resourceListHandler(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("resource-list requires INSTANCE", 1)
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
	resources, err := sess.cat.Resources(ctx, instID)
	if err != nil {
		return err
	}
	for _, r := range resources {
		fmt.Fprintf(c.App.Writer, "%-6d %-20s %-10s %-4d  %s\n", r.ResourceID, r.Name, r.Kind, r.Width, r.Description)
	}
	return nil
}

var resourceReadCmd = cli.Command{
	Name:      "resource-read",
	Usage:     "read one or more resources by name, supporting a trailing '*' wildcard",
	ArgsUsage: "INSTANCE NAME[...]",
	Action:    resourceReadHandler,
}

func resourceReadHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.NewExitError("resource-read requires INSTANCE and NAME", 1)
	}
	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instID, err := sess.cat.LookupPath(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	matches, err := sess.cat.ResourceByName(ctx, instID, c.Args().Get(1))
	if err != nil {
		return err
	}
	for _, r := range matches {
		val, err := sess.conn.ResourceRead(ctx, instID, r.ResourceID)
		if err != nil {
			fmt.Fprintf(c.App.Writer, "%-20s %s\n", r.Name, fred(err.Error()))
			continue
		}
		fmt.Fprintf(c.App.Writer, "%-20s 0x%x\n", r.Name, val.Value)
	}
	return nil
}

var memoryReadCmd = cli.Command{
	Name:      "memory-read",
	Usage:     "hex dump of memory at an address",
	ArgsUsage: "INSTANCE ADDR LEN",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "group-by", Value: "u8", Usage: "u8|u16|u32|u64"},
		cli.Int64Flag{Name: "mem-space", Usage: "memory space id passed to memoryRead (default 0; the instance's active space is not looked up)"},
	},
	Action: memoryReadHandler,
}

func groupWidth(groupBy string) (int, error) {
	switch groupBy {
	case "u8":
		return 1, nil
	case "u16":
		return 2, nil
	case "u32":
		return 4, nil
	case "u64":
		return 8, nil
	default:
		return 0, fmt.Errorf("memory-read: unsupported --group-by %q", groupBy)
	}
}

func memoryReadHandler(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.NewExitError("memory-read requires INSTANCE ADDR LEN", 1)
	}
	width, err := groupWidth(c.String("group-by"))
	if err != nil {
		return err
	}
	addr, err := strconv.ParseUint(c.Args().Get(1), 0, 64)
	if err != nil {
		return fmt.Errorf("memory-read: bad ADDR: %w", err)
	}
	length, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return fmt.Errorf("memory-read: bad LEN: %w", err)
	}

	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instID, err := sess.cat.LookupPath(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	memSpace := c.Int64("mem-space")
	data, err := sess.conn.MemoryRead(ctx, instID, addr, length, memSpace)
	if err != nil {
		return err
	}
	writeHexDump(c.App.Writer, addr, data, width)
	return nil
}

// writeHexDump renders data as rows of up to 16 bytes aligned to the
// 16-byte boundary containing addr (spec.md S4): each row is labeled with
// its absolute address, and the first row pads out the bytes before addr
// with blanks in both the hex and ASCII columns so addr lands in its true
// column rather than at the left margin.
func writeHexDump(w io.Writer, addr uint64, data []byte, width int) {
	const rowWidth = 16
	base := addr &^ uint64(rowWidth-1)
	lead := int(addr - base)

	padded := make([]byte, lead, lead+len(data))
	padded = append(padded, data...)

	for off := 0; off < len(padded); off += rowWidth {
		end := off + rowWidth
		if end > len(padded) {
			end = len(padded)
		}
		row := padded[off:end]

		var hexCols strings.Builder
		for i := 0; i < len(row); i += width {
			j := i + width
			if j > len(row) {
				j = len(row)
			}
			for k := i; k < j; k++ {
				if off+k < lead {
					hexCols.WriteString("  ")
				} else {
					fmt.Fprintf(&hexCols, "%02x", row[k])
				}
			}
			hexCols.WriteByte(' ')
		}

		var ascii strings.Builder
		for i, b := range row {
			if off+i < lead {
				ascii.WriteByte(' ')
			} else if b >= 0x20 && b < 0x7f {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}

		fmt.Fprintf(w, "%08x %s %s\n", base+uint64(off), strings.TrimRight(hexCols.String(), " "), ascii.String())
	}
}

var eventSourcesCmd = cli.Command{
	Name:      "event-sources",
	Usage:     "list event sources of an instance",
	ArgsUsage: "INSTANCE",
	Action:    eventSourcesHandler,
}

func eventSourcesHandler(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("event-sources requires INSTANCE", 1)
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
	sources, err := sess.cat.EventSources(ctx, instID)
	if err != nil {
		return err
	}
	for _, s := range sources {
		fmt.Fprintf(c.App.Writer, "%-6d %-24s %s\n", s.EventSourceID, s.Name, s.Description)
	}
	return nil
}

var eventFieldsCmd = cli.Command{
	Name:      "event-fields",
	Usage:     "list field descriptors of one event source",
	ArgsUsage: "INSTANCE SOURCE",
	Action:    eventFieldsHandler,
}

func eventFieldsHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.NewExitError("event-fields requires INSTANCE and SOURCE", 1)
	}
	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instID, err := sess.cat.LookupPath(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	src, err := sess.cat.EventSourceByName(ctx, instID, c.Args().Get(1))
	if err != nil {
		return err
	}
	fields, err := sess.cat.EventFields(ctx, instID, src.EventSourceID)
	if err != nil {
		return err
	}
	for _, f := range fields {
		fmt.Fprintf(c.App.Writer, "%-20s %-8s %d\n", f.Name, f.Type, f.Size)
	}
	return nil
}

var eventLogCmd = cli.Command{
	Name:      "event-log",
	Usage:     "stream one JSON object per line until interrupted",
	ArgsUsage: "INSTANCE SOURCE",
	Action:    eventLogHandler,
}

// eventLogHandler implements spec.md §6's event-log subcommand: it prints
// one JSON line per event record until Ctrl-C. When the subscription
// closes because the connection dropped, it calls EventStreamCreate once
// more on the same Connection; a Connection does not reopen once closed,
// so that second attempt fails with Disconnected and the command exits
// non-zero. No new connection is dialed.
func eventLogHandler(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.NewExitError("event-log requires INSTANCE and SOURCE", 1)
	}
	sess, err := dial(c)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	instID, err := sess.cat.LookupPath(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	src, err := sess.cat.EventSourceByName(ctx, instID, c.Args().Get(1))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	retried := false
	for {
		streamID, err := sess.conn.EventStreamCreate(ctx, instID, src.EventSourceID)
		if err != nil {
			return err
		}
		sub, err := sess.conn.SubscribeEventSource(instID, src.EventSourceID, sess.cfg.EventQueueDepth)
		if err != nil {
			_ = sess.conn.EventStreamDestroy(ctx, streamID)
			return err
		}

		disconnected := tailEventLog(c, sub, sigCh)
		sess.conn.Unsubscribe(sub)
		_ = sess.conn.EventStreamDestroy(ctx, streamID)
		if !disconnected {
			return nil
		}
		if retried {
			return cos.ErrDisconnected
		}
		retried = true
	}
}

// tailEventLog drains sub until Ctrl-C (returns false) or the
// subscription channel closes because the connection disconnected
// (returns true, asking the caller to retry once).
func tailEventLog(c *cli.Context, sub *iris.Subscription, sigCh chan os.Signal) bool {
	for {
		select {
		case <-sigCh:
			return false
		case d, ok := <-sub.C():
			if !ok {
				return true
			}
			if d.Dropped != nil {
				fmt.Fprintln(c.App.ErrWriter, fred(d.Dropped.Error()))
				continue
			}
			if d.Record == nil {
				continue
			}
			line, err := wire.Marshal(d.Record)
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, fred(err.Error()))
				continue
			}
			fmt.Fprintln(c.App.Writer, string(line))
		}
	}
}
