package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/google/gousb"
)

// IfaceClassPrinter is the USB printer interface class.
// Reference: http://www.usb.org/developers/defined_class
const IfaceClassPrinter = 0x07

// FindPrinterInterface makes USBPort claim the first printer-class interface
// instead of a fixed interface number.
const FindPrinterInterface = -1

// ErrNoUSBDevice is returned when no USB device matches.
var ErrNoUSBDevice = errors.New("cannot find printer")

// DeviceInfo describes a USB device seen during discovery.
type DeviceInfo struct {
	Vendor       uint16 `json:"vendor_id"`
	Product      uint16 `json:"product_id"`
	Bus          int    `json:"bus"`
	Address      int    `json:"address"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ProductName  string `json:"product,omitempty"`
	IsPrinter    bool   `json:"is_printer"`
}

// USBPort manages communication with one USB printer device.
type USBPort struct {
	device      *gousb.Device
	ctx         *gousb.Context
	ownsCtx     bool
	ifaceNum    int
	cfg         *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	isOpen      bool
	mu          sync.Mutex
}

// NewUSBPort wraps an already opened device. ifaceNum selects the interface
// to claim, or FindPrinterInterface. When ownsCtx is set, Close also closes
// ctx.
func NewUSBPort(ctx *gousb.Context, device *gousb.Device, ifaceNum int, ownsCtx bool) *USBPort {
	return &USBPort{
		ctx:      ctx,
		device:   device,
		ifaceNum: ifaceNum,
		ownsCtx:  ownsCtx,
	}
}

// newContext creates a libusb context, turning the init panic gousb raises
// on hosts without libusb into an error.
func newContext() (ctx *gousb.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("%w: libusb init: %v", ErrUnavailable, r)
		}
	}()
	return gousb.NewContext(), nil
}

// usbAvailable checks that libusb can be initialized.
func usbAvailable() error {
	ctx, err := newContext()
	if err != nil {
		return err
	}
	return ctx.Close()
}

// IsPrinter checks if a device is a printer
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, err := dev.ActiveConfigNum()
	if err != nil {
		return false
	}

	cfgDesc, err := dev.Config(cfg)
	if err != nil {
		return false
	}
	defer cfgDesc.Close()

	for _, iface := range cfgDesc.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return true
			}
		}
	}

	return false
}

// FindPrinters returns all USB printer-class devices. Devices that are not
// printers are closed.
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	var printers []*gousb.Device

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true // Check all devices
	})
	if err != nil && len(devices) == 0 {
		return printers
	}

	for _, dev := range devices {
		if IsPrinter(dev) {
			printers = append(printers, dev)
		} else {
			dev.Close()
		}
	}

	return printers
}

// OpenByVendor opens every device whose vendor ID is in allow.
func OpenByVendor(ctx *gousb.Context, allow []gousb.ID) ([]*gousb.Device, error) {
	allowed := make(map[gousb.ID]bool, len(allow))
	for _, id := range allow {
		allowed[id] = true
	}
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return allowed[desc.Vendor]
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}
	return devices, nil
}

// ListDevices describes every USB device visible to libusb.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		info := DeviceInfo{
			Vendor:    uint16(dev.Desc.Vendor),
			Product:   uint16(dev.Desc.Product),
			Bus:       dev.Desc.Bus,
			Address:   dev.Desc.Address,
			IsPrinter: IsPrinter(dev),
		}
		info.Manufacturer, _ = dev.Manufacturer()
		info.ProductName, _ = dev.Product()
		infos = append(infos, info)
		dev.Close()
	}
	return infos, nil
}

// openFirst opens the first device that can be claimed. The returned port
// owns ctx; every other device is closed. On failure ctx is closed too.
func openFirst(ctx *gousb.Context, devices []*gousb.Device, ifaceNum int, logger *log.Logger) (*USBPort, error) {
	var chosen *USBPort
	var errs []error

	for _, dev := range devices {
		if chosen != nil {
			dev.Close()
			continue
		}
		port := NewUSBPort(ctx, dev, ifaceNum, false)
		if err := port.Open(); err != nil {
			logger.Printf("Skipping %s: %v", port.Identifier(), err)
			errs = append(errs, err)
			port.Close()
			continue
		}
		chosen = port
	}

	if chosen == nil {
		ctx.Close()
		if len(errs) == 0 {
			return nil, ErrNoUSBDevice
		}
		return nil, errors.Join(errs...)
	}

	chosen.mu.Lock()
	chosen.ownsCtx = true
	chosen.mu.Unlock()
	return chosen, nil
}

// Open claims the interface and locates the endpoints.
func (p *USBPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isOpen {
		return errors.New("device already open")
	}

	if p.device == nil {
		return errors.New("device not found")
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		p.device.SetAutoDetach(true)
	}

	cfgNum, err := p.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := p.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	ifaceNum := p.ifaceNum
	if ifaceNum == FindPrinterInterface {
		for _, iface := range cfg.Desc.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == IfaceClassPrinter {
					ifaceNum = iface.Number
					break
				}
			}
			if ifaceNum >= 0 {
				break
			}
		}
		if ifaceNum < 0 {
			cfg.Close()
			return errors.New("no printer interface found")
		}
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface %d: %w", ifaceNum, err)
	}

	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && out == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				out = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && in == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				in = ep
			}
		}
	}

	if out == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	p.cfg = cfg
	p.iface = iface
	p.outEndpoint = out
	p.inEndpoint = in
	p.isOpen = true
	return nil
}

// Write sends data to the printer
func (p *USBPort) Write(data []byte) (int, error) {
	return p.WriteContext(context.Background(), data)
}

// WriteContext performs one bulk transfer of data. The transfer is only
// bounded by ctx.
func (p *USBPort) WriteContext(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := p.outEndpoint.WriteContext(ctx, data)
	if err != nil {
		if errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.TransferNoDevice) {
			err = fmt.Errorf("%w: %v", ErrDeviceGone, err)
		}
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read reads data from the printer
func (p *USBPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isOpen {
		return 0, errors.New("device not open")
	}

	if p.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	n, err := p.inEndpoint.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// Close releases the interface, then closes the device (and the context if
// owned). Every step runs even when an earlier one fails.
func (p *USBPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	if p.iface != nil {
		p.iface.Close()
		p.iface = nil
	}

	if p.cfg != nil {
		if err := p.cfg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release config: %w", err))
		}
		p.cfg = nil
	}

	if p.device != nil {
		if err := p.device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device: %w", err))
		}
		p.device = nil
	}

	if p.ctx != nil && p.ownsCtx {
		if err := p.ctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	p.ctx = nil

	p.outEndpoint = nil
	p.inEndpoint = nil
	p.isOpen = false

	return errors.Join(errs...)
}

// IsOpen returns whether the device is open
func (p *USBPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOpen
}

// Identifier returns "USB vvvv:pppp" plus the product string when known.
func (p *USBPort) Identifier() string {
	p.mu.Lock()
	dev := p.device
	p.mu.Unlock()

	if dev == nil || dev.Desc == nil {
		return "USB (closed)"
	}
	id := fmt.Sprintf("USB %04x:%04x", uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))
	if product, err := dev.Product(); err == nil && product != "" {
		id += " " + product
	}
	return id
}
