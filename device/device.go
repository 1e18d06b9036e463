// Package device finds SNAP instruments and opens them for acquisition.
package device

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/protocol"
	"github.com/sergev/snap/transport"
)

// USB identity of the STM32 virtual COM port
const (
	VendorID  = 0x0483
	ProductID = 0x5740
)

const (
	Vendor = "STM32"
	Model  = "SNAP Basestation"

	MinSampleRate = 1
	MaxSampleRate = 1000000000

	DefaultPingTimeout = 2 * time.Second
)

// ErrNotFound is returned when no port answers the handshake
var ErrNotFound = errors.New("no SNAP instrument found")

// Overridden by tests
var (
	listPorts = enumerator.GetDetailedPortsList
	openLink  = transport.Open
)

// Options selects the instrument to open
type Options struct {
	Port        string // link; empty means scan by VID/PID
	Baud        int
	VendorID    uint16
	ProductID   uint16
	PingTimeout time.Duration
	Log         *logrus.Logger
}

// Device is an open instrument that answered PING
type Device struct {
	transport.Transport
	Port         string
	SerialNumber string
	Product      string
}

// Scan lists the serial ports whose USB identity matches vid:pid
func Scan(vid, pid uint16) ([]*enumerator.PortDetails, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var found []*enumerator.PortDetails
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		portVID, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		portPID, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		if uint16(portVID) == vid && uint16(portPID) == pid {
			found = append(found, port)
		}
	}
	return found, nil
}

// Open connects to the configured port, or to the first scanned port that
// answers PING
func Open(opts Options) (*Device, error) {
	if opts.VendorID == 0 && opts.ProductID == 0 {
		opts.VendorID, opts.ProductID = VendorID, ProductID
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	if opts.Port != "" {
		link, err := openLink(opts.Port, opts.Baud)
		if err != nil {
			return nil, err
		}
		return Attach(link, opts.Port, opts.PingTimeout)
	}

	ports, err := Scan(opts.VendorID, opts.ProductID)
	if err != nil {
		return nil, err
	}
	for _, port := range ports {
		link, err := openLink(port.Name, opts.Baud)
		if err != nil {
			opts.Log.Debugf("Skipping %s: %v", port.Name, err)
			continue
		}
		dev, err := Attach(link, port.Name, opts.PingTimeout)
		if err != nil {
			opts.Log.Debugf("Skipping %s: %v", port.Name, err)
			continue
		}
		dev.SerialNumber = port.SerialNumber
		dev.Product = port.Product
		opts.Log.Infof("Found %s on %s", Model, port.Name)
		return dev, nil
	}
	return nil, fmt.Errorf("%w (VID=0x%04X PID=0x%04X)", ErrNotFound, opts.VendorID, opts.ProductID)
}

// Attach checks an already open link with PING. The link is closed when the
// handshake fails.
func Attach(link transport.Transport, port string, timeout time.Duration) (*Device, error) {
	if err := link.Flush(); err != nil {
		link.Close()
		return nil, err
	}
	if err := protocol.Ping(link, timeout); err != nil {
		link.Close()
		return nil, fmt.Errorf("%s did not answer PING: %w", port, err)
	}
	return &Device{Transport: link, Port: port}, nil
}

// PrintStatus prints the instrument identity
func (d *Device) PrintStatus(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", Vendor, Model)
	fmt.Fprintf(w, "Port: %s\n", d.Port)
	if d.Product != "" {
		fmt.Fprintf(w, "Product: %s\n", d.Product)
	}
	if d.SerialNumber != "" {
		fmt.Fprintf(w, "Serial Number: %s\n", d.SerialNumber)
	}
	fmt.Fprintf(w, "Sample rate: %d Hz to %d Hz\n", MinSampleRate, MaxSampleRate)
}

// USBInfo holds the descriptor strings of the instrument
type USBInfo struct {
	Manufacturer string
	Product      string
	SerialNumber string
	Bus          int
	Address      int
	Speed        string
}

// USBStrings reads descriptor strings of the first USB device matching vid:pid
func USBStrings(vid, pid uint16) (*USBInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("%w (VID=0x%04X PID=0x%04X)", ErrNotFound, vid, pid)
	}

	dev := devs[0]
	info := &USBInfo{
		Bus:     dev.Desc.Bus,
		Address: dev.Desc.Address,
		Speed:   dev.Desc.Speed.String(),
	}
	if info.Manufacturer, err = dev.Manufacturer(); err != nil {
		return nil, fmt.Errorf("failed to read manufacturer: %w", err)
	}
	if info.Product, err = dev.Product(); err != nil {
		return nil, fmt.Errorf("failed to read product: %w", err)
	}
	if info.SerialNumber, err = dev.SerialNumber(); err != nil {
		return nil, fmt.Errorf("failed to read serial number: %w", err)
	}
	return info, nil
}

// DefaultChannels returns the channel set of the instrument: eight logic
// inputs named 0..7 and one analog input A0, all enabled
func DefaultChannels() acquisition.Channels {
	var ch acquisition.Channels
	for i := 0; i < 8; i++ {
		ch.Logic = append(ch.Logic, acquisition.Channel{
			Name:    strconv.Itoa(i),
			Index:   i,
			Enabled: true,
		})
	}
	ch.Analog = []acquisition.Channel{{Name: "A0", Index: 0, Enabled: true}}
	return ch
}

// ValidSampleRate checks a rate against the 1 Hz..1 GHz range
func ValidSampleRate(rate uint64) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("sample rate %d Hz out of range %d..%d Hz", rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}
