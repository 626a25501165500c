package driver

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/print-spool/teg-driver/pkg/log"
	"github.com/print-spool/teg-driver/pkg/machine"
	"github.com/print-spool/teg-driver/pkg/psm"
	"github.com/print-spool/teg-driver/pkg/serialport"
	"github.com/print-spool/teg-driver/pkg/wire"
)

// exitDelayKey is the timer key EffectExitProcessAfterDelay arms; it is
// handled specially in onTimerFire because it has no corresponding PSM
// event to re-inject.
const exitDelayKey = "exit_delay"

// exitAfterIdleDelay is how long the driver waits after going idle with
// reset_when_idle set before exiting the process.
const exitAfterIdleDelay = 2 * time.Second

// Run opens the serial port, starts the reader goroutines, and drives
// the event loop until ctx is cancelled, an EffectExitProcess fires, or
// the idle-exit timer elapses.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.exit = cancel

	d.conn.StartReconnectLoop()
	defer d.conn.Close()

	if d.framer != nil {
		go d.readControl(ctx)
	}

	if err := d.conn.Connect(ctx); err != nil {
		return fmt.Errorf("driver: initial connect: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.handle(ev, time.Now())
		}
	}
}

// connectSerial is the connection.Manager's ConnectFunc: it opens the
// configured port and starts the reader goroutine that feeds the event
// loop.
func (d *Driver) connectSerial(ctx context.Context) error {
	port, err := serialport.OpenForConfig(d.cfg.Simulate, d.cfg.SerialPortID, d.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("driver: open serial port: %w", err)
	}
	d.setPort(port)
	go d.readSerial()
	return nil
}

// push enqueues an event for the loop; safe to call from any goroutine.
func (d *Driver) push(ev psm.Event) {
	select {
	case d.events <- ev:
	default:
		// The channel is a 64-deep buffer; a full queue means the loop
		// is wedged, and blocking here would wedge the caller too.
		// Drop it: the next tickle or timeout will surface the stall.
	}
}

func (d *Driver) handle(ev psm.Event, at time.Time) {
	var wireFb *wire.Feedback
	if ev.Kind == psm.EventSerialLine {
		d.view.AppendGCodeHistory(ev.RawLine, machine.HistoryRx, at)
		d.logger.Log(log.Event{
			Timestamp: at,
			MachineID: d.machineID,
			Direction: log.DirectionIn,
			Layer:     log.LayerSerial,
			Category:  log.CategoryLine,
			Line:      &log.LineEvent{Content: ev.RawLine},
		})
		wireFb = selectWireFeedback(ev.Response)
	}

	wasErrored := d.psm.State == psm.StateErrored
	effects := d.psm.Consume(ev, at)
	sent := d.applyEffects(effects, wireFb, at)

	// errorf itself carries no EffectControlSend (it can fire from
	// contexts no "connected"/"task X" reason fits), so report the
	// fresh transition into Errored explicitly.
	if !sent && !wasErrored && d.psm.State == psm.StateErrored {
		d.sendFeedback(nil, at)
	}
}

// selectWireFeedback picks the reading a response line carries, if
// any: an inline report on an "ok", or a standalone unsolicited one.
func selectWireFeedback(resp wire.Response) *wire.Feedback {
	if resp.OkFeedback != nil {
		return resp.OkFeedback
	}
	return resp.Feedback
}

// readSerial scans newline-delimited responses off the port and pushes
// a parsed EventSerialLine for each one; it never touches driver state
// directly, only the event channel, to keep the event loop the single
// writer of PSM/view/spooler state.
func (d *Driver) readSerial() {
	port := d.Port()
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		resp, err := wire.ParseLine(line)
		if err != nil {
			continue
		}
		d.push(psm.Event{Kind: psm.EventSerialLine, Response: resp, RawLine: line})
	}

	port.Close()
	d.push(psm.Event{Kind: psm.EventSerialDisconnected})
	d.conn.NotifyConnectionLost()
}

func (d *Driver) onTimerFire(key string) {
	if key == exitDelayKey {
		if d.exit != nil {
			d.exit()
		}
		return
	}

	d.mu.Lock()
	ev, ok := d.pendingDelays[key]
	delete(d.pendingDelays, key)
	d.mu.Unlock()

	if !ok {
		return
	}
	d.push(ev)
}
