package dundee

import (
	"github.com/nerrad567/dunbridge/internal/connectivity"
)

// deviceDriver is the connectivity driver for DUN devices. Device
// lifecycle is driven by bus events, so every operation succeeds
// without side effects.
type deviceDriver struct {
	lc *Lifecycle
}

func (d *deviceDriver) Name() string                  { return "dundee" }
func (d *deviceDriver) Type() connectivity.DeviceType { return connectivity.DeviceTypeBluetooth }

func (d *deviceDriver) Probe(dev *connectivity.Device) error {
	d.lc.logDebug("device probe", "ident", dev.Ident())
	return nil
}

func (d *deviceDriver) Remove(dev *connectivity.Device) {
	d.lc.logDebug("device remove", "ident", dev.Ident())
}

func (d *deviceDriver) Enable(dev *connectivity.Device) error {
	d.lc.logDebug("device enable", "ident", dev.Ident())
	return nil
}

func (d *deviceDriver) Disable(dev *connectivity.Device) error {
	d.lc.logDebug("device disable", "ident", dev.Ident())
	return nil
}

// networkDriver is the connectivity driver for DUN networks. Like
// deviceDriver it carries no state.
type networkDriver struct {
	lc *Lifecycle
}

func (d *networkDriver) Name() string                   { return "network" }
func (d *networkDriver) Type() connectivity.NetworkType { return connectivity.NetworkTypeBluetoothDUN }

func (d *networkDriver) Probe(nw *connectivity.Network) error {
	d.lc.logDebug("network probe", "ident", nw.Ident())
	return nil
}

func (d *networkDriver) Remove(nw *connectivity.Network) {
	d.lc.logDebug("network remove", "ident", nw.Ident())
}

func (d *networkDriver) Connect(nw *connectivity.Network) error {
	d.lc.logDebug("network connect", "ident", nw.Ident())
	return nil
}

func (d *networkDriver) Disconnect(nw *connectivity.Network) error {
	d.lc.logDebug("network disconnect", "ident", nw.Ident())
	return nil
}
