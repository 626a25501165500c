package driver

import (
	"context"
	"io"
	"time"

	"github.com/print-spool/teg-driver/pkg/control"
	"github.com/print-spool/teg-driver/pkg/psm"
)

// readControl drains CombinatorMessage frames off the control channel
// and translates them into PSM events. It never touches PSM/view/spooler
// state directly, only persistence.Store.Track (which is its own
// concurrency-safe type) and the event channel, for the same reason
// readSerial doesn't: the event loop is the single writer of PSM state.
func (d *Driver) readControl(ctx context.Context) {
	for {
		data, err := d.framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return
			}
			d.logError("read control frame", err)
			return
		}

		msg, err := control.DecodeCombinatorMessage(data)
		if err != nil {
			d.logError("decode control frame", err)
			continue
		}

		switch {
		case msg.SpoolTask != nil:
			req := msg.SpoolTask
			d.repo.Track(req.TaskID, req.ClientID, !req.MachineOverride, time.Now())
			d.push(psm.Event{Kind: psm.EventSpoolTaskRequested, SpoolRequest: req})

		case msg.PauseTask != nil:
			d.push(psm.Event{Kind: psm.EventPauseTaskRequested, PauseTaskID: msg.PauseTask.TaskID})
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
