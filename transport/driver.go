package transport

import (
	"time"

	"aeronet/pkg/log"
	"aeronet/pkg/session"
)

// Driver owns one Session and its Substrate, running the single driver
// task's tick loop: poll incoming datagrams, advance the session clock,
// flush outgoing packets, and forward MTU changes. Each session gets
// exactly one Driver; the session itself is never touched from any other
// goroutine.
type Driver struct {
	sub     Substrate
	sess    *session.Session
	events  chan session.Event
	tickDur time.Duration
	stop    chan struct{}
}

// NewDriver pairs an established Session with its Substrate and starts the
// tick loop in a background goroutine. Events are delivered on the Events
// channel; callers should drain it so events are not dropped once its
// buffer fills.
func NewDriver(sub Substrate, sess *session.Session, tick time.Duration) *Driver {
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	d := &Driver{
		sub:     sub,
		sess:    sess,
		events:  make(chan session.Event, 256),
		tickDur: tick,
		stop:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Events returns the channel events are published on.
func (d *Driver) Events() <-chan session.Event { return d.events }

func (d *Driver) run() {
	ticker := time.NewTicker(d.tickDur)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			d.tick(now)
		}
	}
}

func (d *Driver) tick(now time.Time) {
	received := false
	for {
		payload, ok := d.sub.RecvDatagram()
		if !ok {
			break
		}
		received = true
		for _, ev := range d.sess.Poll(now, payload) {
			d.publish(ev)
			if ev.Kind == session.EventDisconnected {
				d.Stop()
				return
			}
		}
	}
	if !received {
		// No datagram this tick: still poll with an empty packet so
		// lifecycle events (Connected) and time-driven eviction aren't
		// starved by a quiet peer.
		for _, ev := range d.sess.Poll(now, nil) {
			d.publish(ev)
			if ev.Kind == session.EventDisconnected {
				d.Stop()
				return
			}
		}
	}

	if mtu := d.sub.MTU(); mtu > 0 {
		d.sess.SetMTU(mtu)
	}

	if d.sess.IdleTimeout() > 0 && d.sess.IdleFor(now) > d.sess.IdleTimeout() {
		d.Disconnect("idle timeout")
		return
	}

	for _, packet := range d.sess.Flush(now) {
		if err := d.sub.SendDatagram(packet); err != nil {
			log.Warn("transport: send_datagram failed: %v", err)
		}
	}
}

func (d *Driver) publish(ev session.Event) {
	select {
	case d.events <- ev:
	default:
		log.Warn("transport: driver event channel full, dropping event kind=%d", ev.Kind)
	}
}

// Disconnect initiates a graceful local close: the session's Disconnect
// frame is sent on the substrate before the driver stops.
func (d *Driver) Disconnect(reason string) {
	frame, events := d.sess.Disconnect(reason)
	_ = d.sub.SendDatagram(frame)
	for _, ev := range events {
		d.publish(ev)
	}
	d.Stop()
}

// Stop halts the tick loop and closes the substrate. Safe to call more
// than once.
func (d *Driver) Stop() {
	select {
	case <-d.stop:
		return
	default:
		close(d.stop)
	}
	_ = d.sub.Close()
}
