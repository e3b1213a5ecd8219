package ws

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ConnStats is a point-in-time view of one websocket connection's buffers.
type ConnStats struct {
	SendLen         int
	SendCap         int
	ReadBufferSize  int
	WriteBufferSize int
	ReadLimit       int64
	LastFrame       int64
}

func (c *Conn) Stats() ConnStats {
	return ConnStats{
		SendLen:         len(c.send),
		SendCap:         cap(c.send),
		ReadBufferSize:  c.opts.readBufferSize,
		WriteBufferSize: c.opts.writeBufferSize,
		ReadLimit:       c.opts.readLimit,
		LastFrame:       c.lastFrame.Load(),
	}
}

type procStats struct {
	proc *process.Process
	err  error
}

func newProcStats() *procStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	return &procStats{proc: p, err: err}
}

// sample returns resident memory and open descriptor count for this process.
func (p *procStats) sample() (rss uint64, fds int32, err error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	fds, err = p.proc.NumFDs()
	if err != nil {
		return mem.RSS, 0, err
	}
	return mem.RSS, fds, nil
}

// logDiagnostics walks every live connection, not only registered sessions,
// and reports buffer occupancy for the websocket ones.
func (b *Broadcaster) logDiagnostics() {
	b.conns.Each(func(c *Conn) {
		if !c.IsWebSocket() {
			return
		}
		st := c.Stats()
		b.logger.Debug("connection buffers",
			"conn", uint64(c.ID),
			"addr", c.Addr,
			"send_len", st.SendLen,
			"send_cap", st.SendCap,
			"read_buffer", st.ReadBufferSize,
			"write_buffer", st.WriteBufferSize,
			"read_limit", st.ReadLimit,
			"last_frame", st.LastFrame,
		)
	})

	rss, fds, err := b.procStat.sample()
	if err != nil {
		b.logger.Debug("process stats unavailable", "error", err)
		return
	}
	b.logger.Debug("process stats", "rss", rss, "fds", fds, "connections", b.conns.Len())
}
