package control

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ChannelClass is the hardware channel family. Values are the wire names.
type ChannelClass string

const (
	Analog  ChannelClass = "analog"
	Digital ChannelClass = "digital"
	Calc    ChannelClass = "calc"
)

// Classes lists every channel class in server order.
var Classes = []ChannelClass{Analog, Digital, Calc}

// Valid reports whether c is a known class.
func (c ChannelClass) Valid() bool {
	switch c {
	case Analog, Digital, Calc:
		return true
	}
	return false
}

// ChannelKey identifies one hardware channel. It is comparable and used as a map key.
type ChannelKey struct {
	Class ChannelClass
	Index int
}

// String renders the key as "class:index", the form ParseChannelKey accepts.
func (k ChannelKey) String() string {
	return fmt.Sprintf("%s:%d", k.Class, k.Index)
}

// ParseChannelKey parses "analog:3". The separator may also be '/' or '.'.
func ParseChannelKey(s string) (ChannelKey, error) {
	sep := strings.IndexAny(s, ":/.")
	if sep < 0 {
		return ChannelKey{}, fmt.Errorf("channel key %q: want class:index", s)
	}
	class := ChannelClass(strings.ToLower(strings.TrimSpace(s[:sep])))
	if !class.Valid() {
		return ChannelKey{}, fmt.Errorf("channel key %q: unknown class %q", s, class)
	}
	index, err := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil || index < 0 {
		return ChannelKey{}, fmt.Errorf("channel key %q: index must be a non-negative integer", s)
	}
	return ChannelKey{Class: class, Index: index}, nil
}

// MarshalText implements encoding.TextMarshaler for config and JSON use.
func (k ChannelKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ChannelKey) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NumericType is the binary sample representation on the data connection.
type NumericType string

const (
	Double NumericType = "double"
	Float  NumericType = "float"
	Short  NumericType = "short"
)

// Endianness is the byte order of samples on the data connection.
type Endianness string

const (
	BigEndian    Endianness = "big"
	LittleEndian Endianness = "little"
)

// Encoding pairs a numeric type with its byte order.
type Encoding struct {
	Type   NumericType
	Endian Endianness
}

// DefaultEncoding is what the stream decoder expects: big-endian IEEE-754 doubles.
var DefaultEncoding = Encoding{Type: Double, Endian: BigEndian}

// ConnectionMethod selects one shared data connection or one per channel.
type ConnectionMethod string

const (
	SingleConnection    ConnectionMethod = "single"
	MultipleConnections ConnectionMethod = "multiple"
)

// TransportType selects the data connection transport.
type TransportType string

const (
	TCP TransportType = "tcp"
	UDP TransportType = "udp"
)

// Scaling converts raw values to engineering units: scaled = raw*Scale + Offset.
type Scaling struct {
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// ServerAddress locates an acquisition server's control endpoint.
type ServerAddress struct {
	Host        string
	ControlPort int
}

// NewServerAddress builds an address from an IP and port.
func NewServerAddress(ip net.IP, port int) ServerAddress {
	return ServerAddress{Host: ip.String(), ControlPort: port}
}

// String renders host:port.
func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.ControlPort))
}

// URL is the XML-RPC endpoint.
func (a ServerAddress) URL() string {
	return "http://" + a.String() + "/RPC2"
}

// IsZero reports whether the address is unset.
func (a ServerAddress) IsZero() bool {
	return a.Host == "" && a.ControlPort == 0
}
