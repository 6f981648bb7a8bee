package gdbbridge

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/gdbrsp"
	"github.com/Linaro/lite-cornea/internal/iris"
	"github.com/Linaro/lite-cornea/internal/nlog"
)

type state int

const (
	stateStopped state = iota
	stateRunning
)

// stopSignal describes why the bridge last entered stateStopped, enough
// to build the GDB stop-reply spec.md §4.7 requires.
type stopSignal int

const (
	stopUnknown stopSignal = iota
	stopBreakpoint
	stopStep
	stopInterrupt
)

const (
	maxMalformedRetries = 3

	// defaultEventQueueDepth is used when the caller passes a
	// non-positive eventQueueDepth to New (Config.EventQueueDepth, spec.md
	// §4.4, is expected to supply the real value).
	defaultEventQueueDepth = 8

	// memorySpaceResource is the Open Question 2 assumption (SPEC_FULL.md):
	// the CPU instance exposes its currently-active memory space id as an
	// ordinary resource under this name. Confirm against real hardware
	// before relying on it in production.
	memorySpaceResource = "memorySpace"
)

// Bridge is spec.md §4.7's component C7: a single-CPU GDB stub bound to
// one Iris instance for the life of one GDB connection.
type Bridge struct {
	conn *iris.Connection
	inst int64

	regs        regTable
	regResID    []int64 // resolved once at startup, one per regs slot
	memSpaceRes int64
	hasMemSpace bool

	r *bufio.Reader
	w *bufio.Writer

	mu       sync.Mutex
	st       state
	lastSig  stopSignal
	bpByAddr map[uint64]int64
	ackMode  bool

	wMu sync.Mutex // serializes writes to w against the async resume goroutine

	stopSub *iris.Subscription
	bpSub   *iris.Subscription
}

// New builds a Bridge for instID on conn, auto-detecting its
// architecture from the landmark registers present in its resource list
// (xpsr => armv6-m, cpsr => aarch64 — an explicit, documented heuristic
// since the Iris protocol has no standard "declared architecture"
// resource to query). regTableDir and eventQueueDepth come straight from
// the resolved Config (regTableDir may be empty; eventQueueDepth <= 0
// falls back to defaultEventQueueDepth).
func New(ctx context.Context, conn *iris.Connection, cat *iris.Catalog, instID int64, stdin io.Reader, stdout io.Writer, regTableDir string, eventQueueDepth int) (*Bridge, error) {
	if eventQueueDepth <= 0 {
		eventQueueDepth = defaultEventQueueDepth
	}

	arch, err := detectArchitecture(ctx, cat, instID)
	if err != nil {
		return nil, err
	}
	regs, err := regTableFor(arch, regTableDir)
	if err != nil {
		return nil, err
	}

	resIDs := make([]int64, len(regs))
	for i, slot := range regs {
		matches, err := cat.ResourceByName(ctx, instID, slot.ResourceName)
		if err != nil {
			return nil, cos.Wrapf(err, "gdbbridge: resolve register resource %q", slot.ResourceName)
		}
		resIDs[i] = matches[0].ResourceID
	}

	var memSpaceRes int64
	hasMemSpace := false
	if matches, err := cat.ResourceByName(ctx, instID, memorySpaceResource); err == nil && len(matches) > 0 {
		memSpaceRes = matches[0].ResourceID
		hasMemSpace = true
	}

	stopSub, err := conn.SubscribeControl(instID, "ecExecutionStopped", eventQueueDepth)
	if err != nil {
		return nil, err
	}
	bpSub, err := conn.SubscribeControl(instID, "ecInstanceBreakpointHit", eventQueueDepth)
	if err != nil {
		conn.Unsubscribe(stopSub)
		return nil, err
	}

	return &Bridge{
		conn:        conn,
		inst:        instID,
		regs:        regs,
		regResID:    resIDs,
		memSpaceRes: memSpaceRes,
		hasMemSpace: hasMemSpace,
		r:           bufio.NewReader(stdin),
		w:           bufio.NewWriter(stdout),
		st:          stateStopped,
		bpByAddr:    make(map[uint64]int64),
		ackMode:     true,
		stopSub:     stopSub,
		bpSub:       bpSub,
	}, nil
}

func detectArchitecture(ctx context.Context, cat *iris.Catalog, instID int64) (string, error) {
	resources, err := cat.Resources(ctx, instID)
	if err != nil {
		return "", err
	}
	for _, r := range resources {
		switch r.Name {
		case "xpsr":
			return "armv6-m", nil
		case "cpsr":
			return "aarch64", nil
		}
	}
	return "", &cos.ErrGdbProtocol{Reason: "cannot determine target architecture from resource list"}
}

// Close releases the bridge's event subscriptions. Safe to call once
// Run has returned.
func (b *Bridge) Close() {
	b.conn.Unsubscribe(b.stopSub)
	b.conn.Unsubscribe(b.bpSub)
}

// gdbPacket is what the packet-reader goroutine feeds into Run's
// serialized select loop.
type gdbPacket struct {
	payload     []byte
	interrupted bool
	err         error
}

// Run drives the bridge until GDB sends 'D', either stream hits EOF, or
// the Iris connection disconnects. The GDB-packet reader and the Iris
// event deliveries run on separate goroutines (spec.md §5) that both
// feed this single serialized loop, so the state machine itself never
// needs more than one mutex's worth of protection for its own fields;
// the mutex here still exists because the goroutine handleResume starts
// for a continue updates the state concurrently with this loop.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pktCh := make(chan gdbPacket, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pktCh)
		for {
			payload, interrupted, err := gdbrsp.ReadPacket(b.r)
			select {
			case pktCh <- gdbPacket{payload: payload, interrupted: interrupted, err: err}:
			case <-gctx.Done():
				return nil
			}
			if err != nil {
				// A malformed packet is nak'd by the loop and GDB resends
				// it, so keep reading; any other read error ends the reader.
				if _, malformed := err.(*cos.ErrGdbProtocol); !malformed {
					return nil
				}
			}
		}
	})

	err := b.loop(ctx, pktCh)
	cancel()
	_ = g.Wait()
	return err
}

func (b *Bridge) loop(ctx context.Context, pktCh <-chan gdbPacket) error {
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-b.stopSub.C():
			if !ok {
				return cos.ErrDisconnected
			}
			b.handleAsyncStop(ctx, d, stopBreakpoint)

		case d, ok := <-b.bpSub.C():
			if !ok {
				return cos.ErrDisconnected
			}
			b.handleAsyncStop(ctx, d, stopBreakpoint)

		case pkt, ok := <-pktCh:
			if !ok {
				return io.EOF
			}
			if pkt.err != nil {
				if pkt.err == io.EOF {
					return io.EOF
				}
				retries++
				if retries > maxMalformedRetries {
					return &cos.ErrGdbProtocol{Reason: "too many malformed packets"}
				}
				b.writeAck(false)
				continue
			}
			retries = 0
			if pkt.interrupted {
				b.handleInterrupt(ctx)
				continue
			}
			done, err := b.handlePacket(ctx, pkt.payload)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (b *Bridge) handleAsyncStop(ctx context.Context, _ iris.Delivery, sig stopSignal) {
	b.mu.Lock()
	if b.st != stateRunning {
		b.mu.Unlock()
		return
	}
	b.st = stateStopped
	b.lastSig = sig
	b.mu.Unlock()
	b.sendStopReply(ctx)
}

func (b *Bridge) handleInterrupt(ctx context.Context) {
	b.mu.Lock()
	running := b.st == stateRunning
	b.mu.Unlock()
	if !running {
		return
	}
	if err := b.conn.ExecutionControlStop(ctx, b.inst); err != nil {
		nlog.Warningf("gdbbridge: stop-on-interrupt failed: %v", err)
		return
	}
	b.mu.Lock()
	b.st = stateStopped
	b.lastSig = stopInterrupt
	b.mu.Unlock()
	b.sendStopReply(ctx)
}

// sendStopReply emits the T/S packet spec.md §4.7 requires once the
// bridge has transitioned into stateStopped.
func (b *Bridge) sendStopReply(ctx context.Context) {
	b.mu.Lock()
	sig := b.lastSig
	b.mu.Unlock()

	switch sig {
	case stopInterrupt:
		b.reply([]byte("S02"))
		return
	case stopStep:
		b.reply([]byte("T05swbreak:;"))
		return
	case stopBreakpoint:
		reason, err := b.conn.ExecutionControlStopReason(ctx, b.inst)
		if err == nil && reason.Reason == "step" {
			b.reply([]byte("T05swbreak:;"))
			return
		}
		b.reply([]byte("T05hwbreak:;"))
		return
	default:
		b.reply([]byte("T05hwbreak:;"))
	}
}

// reply writes one GDB reply packet. Guarded by wMu because the
// background resume goroutine spawned by handleResume writes its stop
// reply concurrently with whatever the main loop is writing (an ack, an
// interrupt's stop reply) for any packet that arrives while running.
func (b *Bridge) reply(payload []byte) {
	b.wMu.Lock()
	defer b.wMu.Unlock()
	if err := gdbrsp.WritePacket(b.w, payload); err != nil {
		nlog.Warningf("gdbbridge: write failed: %v", err)
	}
}

func (b *Bridge) writeAck(ok bool) {
	b.wMu.Lock()
	defer b.wMu.Unlock()
	_ = gdbrsp.Ack(b.w, ok)
}

func (b *Bridge) replyString(s string) { b.reply([]byte(s)) }

func (b *Bridge) replyOK()    { b.replyString("OK") }
func (b *Bridge) replyErr()   { b.replyString("E01") }
func (b *Bridge) replyEmpty() { b.reply(nil) }

// handlePacket decodes and executes one GDB command packet. It returns
// done=true when the session should end (a clean 'D').
func (b *Bridge) handlePacket(ctx context.Context, payload []byte) (done bool, err error) {
	if b.ackMode {
		b.writeAck(true)
	}

	packet := string(payload)
	switch {
	case packet == "":
		b.replyEmpty()

	case packet == "?":
		b.handleQueryStop(ctx)

	case packet == "g":
		b.handleReadAllRegs(ctx)
	case strings.HasPrefix(packet, "G"):
		b.handleWriteAllRegs(ctx, packet[1:])

	case strings.HasPrefix(packet, "p"):
		b.handleReadOneReg(ctx, packet[1:])
	case strings.HasPrefix(packet, "P"):
		b.handleWriteOneReg(ctx, packet[1:])

	case strings.HasPrefix(packet, "m"):
		b.handleReadMemory(ctx, packet[1:])
	case strings.HasPrefix(packet, "M"):
		b.handleWriteMemory(ctx, packet[1:])

	case strings.HasPrefix(packet, "Z"):
		b.handleBreakpoint(ctx, packet, true)
	case strings.HasPrefix(packet, "z"):
		b.handleBreakpoint(ctx, packet, false)

	case packet == "vCont?":
		b.replyString("vCont;c;s")
	case packet == "vCont;c", packet == "c":
		b.handleResume(ctx, false)
	case packet == "vCont;s", packet == "s":
		b.handleResume(ctx, true)

	case strings.HasPrefix(packet, "qSupported"):
		b.replyString("PacketSize=3fff;QStartNoAckMode+;vContSupported+")
	case packet == "QStartNoAckMode":
		b.ackMode = false
		b.replyOK()
	case packet == "qAttached":
		b.replyString("1")
	case strings.HasPrefix(packet, "H"):
		b.replyOK()
	case packet == "qC":
		b.replyString("QC1")
	case packet == "!":
		b.replyOK()
	case packet == "D":
		b.replyOK()
		return true, nil
	case strings.HasPrefix(packet, "qRcmd,"):
		b.handleMonitorCommand(ctx, packet[len("qRcmd,"):])

	default:
		b.replyEmpty()
	}
	return false, nil
}

func (b *Bridge) handleQueryStop(ctx context.Context) {
	b.mu.Lock()
	running := b.st == stateRunning
	b.mu.Unlock()
	if running {
		if err := b.conn.ExecutionControlStop(ctx, b.inst); err != nil {
			b.replyErr()
			return
		}
		b.mu.Lock()
		b.st = stateStopped
		b.lastSig = stopUnknown
		b.mu.Unlock()
	}
	b.sendStopReply(ctx)
}

func (b *Bridge) handleReadAllRegs(ctx context.Context) {
	out := make([]byte, 0, 256)
	for i, resID := range b.regResID {
		v, err := b.conn.ResourceRead(ctx, b.inst, resID)
		if err != nil {
			b.replyErr()
			return
		}
		out = appendLE(out, v.Value, b.regs[i].Width)
	}
	b.reply([]byte(hex.EncodeToString(out)))
}

func (b *Bridge) handleWriteAllRegs(ctx context.Context, hexPayload string) {
	raw, err := hex.DecodeString(hexPayload)
	if err != nil {
		b.replyErr()
		return
	}
	off := 0
	for i, resID := range b.regResID {
		width := b.regs[i].Width
		if off+width > len(raw) {
			b.replyErr()
			return
		}
		val := decodeLE(raw[off : off+width])
		if err := b.conn.ResourceWrite(ctx, b.inst, resID, val); err != nil {
			b.replyErr()
			return
		}
		off += width
	}
	b.replyOK()
}

func (b *Bridge) handleReadOneReg(ctx context.Context, arg string) {
	n, err := strconv.ParseInt(arg, 16, 64)
	if err != nil || int(n) < 0 || int(n) >= len(b.regResID) {
		b.replyEmpty()
		return
	}
	v, err := b.conn.ResourceRead(ctx, b.inst, b.regResID[n])
	if err != nil {
		b.replyErr()
		return
	}
	out := appendLE(nil, v.Value, b.regs[n].Width)
	b.reply([]byte(hex.EncodeToString(out)))
}

func (b *Bridge) handleWriteOneReg(ctx context.Context, arg string) {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		b.replyErr()
		return
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int(n) < 0 || int(n) >= len(b.regResID) {
		b.replyErr()
		return
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		b.replyErr()
		return
	}
	val := decodeLE(raw)
	if err := b.conn.ResourceWrite(ctx, b.inst, b.regResID[n], val); err != nil {
		b.replyErr()
		return
	}
	b.replyOK()
}

func (b *Bridge) resolveMemSpace(ctx context.Context) int64 {
	if !b.hasMemSpace {
		return 0
	}
	v, err := b.conn.ResourceRead(ctx, b.inst, b.memSpaceRes)
	if err != nil {
		return 0
	}
	return int64(v.Value)
}

func (b *Bridge) handleReadMemory(ctx context.Context, arg string) {
	addr, length, ok := parseAddrLen(arg)
	if !ok {
		b.replyErr()
		return
	}
	data, err := b.conn.MemoryRead(ctx, b.inst, addr, length, b.resolveMemSpace(ctx))
	if err != nil {
		b.replyErr()
		return
	}
	b.reply([]byte(hex.EncodeToString(data)))
}

func (b *Bridge) handleWriteMemory(ctx context.Context, arg string) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		b.replyErr()
		return
	}
	addr, length, ok := parseAddrLen(parts[0])
	if !ok {
		b.replyErr()
		return
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) != length {
		b.replyErr()
		return
	}
	if err := b.conn.MemoryWrite(ctx, b.inst, addr, data, b.resolveMemSpace(ctx)); err != nil {
		b.replyErr()
		return
	}
	b.replyOK()
}

func parseAddrLen(arg string) (addr uint64, length int, ok bool) {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseUint(parts[0], 16, 64)
	l, err2 := strconv.ParseInt(parts[1], 16, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, int(l), true
}

func (b *Bridge) handleBreakpoint(ctx context.Context, packet string, set bool) {
	if len(packet) < 2 {
		b.replyEmpty()
		return
	}
	kind := packet[1]
	if kind != '0' && kind != '1' {
		b.replyEmpty() // software watchpoint kinds 2-4 not supported
		return
	}
	hardware := kind == '1'

	rest := packet[2:]
	rest = strings.TrimPrefix(rest, ",")
	addrStr, _, _ := strings.Cut(rest, ",")
	addr, err := strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		b.replyErr()
		return
	}

	if set {
		bpID, err := b.conn.BreakpointSet(ctx, b.inst, addr, hardware, b.resolveMemSpace(ctx))
		if err != nil {
			b.replyErr()
			return
		}
		b.mu.Lock()
		b.bpByAddr[addr] = bpID
		b.mu.Unlock()
		b.replyOK()
		return
	}

	b.mu.Lock()
	bpID, ok := b.bpByAddr[addr]
	b.mu.Unlock()
	if !ok {
		b.replyErr()
		return
	}
	if err := b.conn.BreakpointClear(ctx, b.inst, bpID); err != nil {
		b.replyErr()
		return
	}
	b.mu.Lock()
	delete(b.bpByAddr, addr)
	b.mu.Unlock()
	b.replyOK()
}

func (b *Bridge) handleResume(ctx context.Context, step bool) {
	b.mu.Lock()
	b.st = stateRunning
	b.mu.Unlock()

	if step {
		err := b.conn.ExecutionControlStep(ctx, b.inst)
		b.mu.Lock()
		b.st = stateStopped
		b.lastSig = stopStep
		b.mu.Unlock()
		if err != nil {
			b.replyErr()
			return
		}
		b.sendStopReply(ctx)
		return
	}

	// Invariant 5: a resume RPC is only ever issued immediately after a
	// resume packet, never speculatively. This may block until the Iris
	// server reports the instance stopped again (spec.md §4.3's "unbounded
	// for explicitly long-running calls"); the bridge's main loop keeps
	// servicing stdin (including a Ctrl-C) and Iris event deliveries
	// concurrently while this runs.
	go func() {
		err := b.conn.ExecutionControlRun(ctx, b.inst)
		b.mu.Lock()
		if b.st != stateRunning {
			// Already transitioned (e.g. by an async stop callback or a
			// Ctrl-C-driven Stop); avoid double-replying.
			b.mu.Unlock()
			return
		}
		b.st = stateStopped
		if err != nil {
			b.lastSig = stopUnknown
		} else {
			b.lastSig = stopBreakpoint
		}
		b.mu.Unlock()
		b.sendStopReply(ctx)
	}()
}

// handleMonitorCommand implements the supplemented qRcmd extension point
// (SPEC_FULL.md): "monitor reset halt" force-stops the CPU (no reset is
// issued) and "monitor info" reads back a one-line running/stopped status,
// both answered as hex-encoded text. Any other command gets an empty reply.
func (b *Bridge) handleMonitorCommand(ctx context.Context, hexCmd string) {
	raw, err := hex.DecodeString(hexCmd)
	if err != nil {
		b.replyErr()
		return
	}
	cmd := strings.TrimSpace(string(raw))
	switch {
	case cmd == "reset halt":
		if err := b.conn.ExecutionControlStop(ctx, b.inst); err != nil {
			b.replyErr()
			return
		}
		b.mu.Lock()
		b.st = stateStopped
		b.mu.Unlock()
		b.replyString(hex.EncodeToString([]byte("halted\n")))
	case cmd == "info":
		b.mu.Lock()
		st := b.st
		b.mu.Unlock()
		msg := "running\n"
		if st == stateStopped {
			msg = "stopped\n"
		}
		b.replyString(hex.EncodeToString([]byte(msg)))
	default:
		b.replyEmpty()
	}
}

func appendLE(out []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		out = append(out, byte(v&0xff))
		v >>= 8
	}
	return out
}

func decodeLE(raw []byte) uint64 {
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v
}

