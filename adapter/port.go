package adapter

// Port is a raw byte stream to a printer device.
type Port interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer
	Write(data []byte) (int, error)

	// Read reads data from the printer
	Read(buf []byte) (int, error)

	// Close closes the connection to the printer and releases the device
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool

	// Identifier names the device for status reporting
	Identifier() string
}
