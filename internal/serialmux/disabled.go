package serialmux

import (
	"context"
	"net/http"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in for the bridge when the daemon runs with
// -disable-serial and signals arrive over HTTP only. Subscriptions stay
// open until Close so readers unblock on shutdown.
type DisabledSerialMux struct {
	subs subscribers
}

func NewDisabledSerialMux() *DisabledSerialMux { return &DisabledSerialMux{} }

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	return d.subs.add(SubscriberBuffer)
}
func (d *DisabledSerialMux) Unsubscribe(id string)    { d.subs.remove(id) }
func (d *DisabledSerialMux) SendCommand(string) error { return nil }
func (d *DisabledSerialMux) Initialise() error        { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Stats() MuxStats {
	return MuxStats{Dropped: d.subs.dropped.Load(), Subscribers: d.subs.len()}
}

func (d *DisabledSerialMux) Close() error {
	d.subs.closeAll()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.HandleSilentFunc("serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sensor bridge disabled\n"))
	})
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)
