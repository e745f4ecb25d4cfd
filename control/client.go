package control

import "context"

// Client is the control surface of an acquisition server. Every method fails
// with an *errors.ProtocolError when the remote call errors, times out or
// returns a value of unexpected shape.
type Client interface {
	// Address returns the server currently targeted.
	Address() ServerAddress
	// SetAddress retargets the client; the RPC binding is rebuilt on next use.
	SetAddress(addr ServerAddress)

	GetUnitType(ctx context.Context) (int, error)
	GetSamplingRate(ctx context.Context) (float64, error)
	GetSamplingRateDivider(ctx context.Context, key ChannelKey) (int, error)
	GetEnabledChannels(ctx context.Context, class ChannelClass) ([]int, error)
	IsChannelEnabled(ctx context.Context, key ChannelKey) (bool, error)
	GetChannelScaling(ctx context.Context, key ChannelKey) (Scaling, error)

	GetDataConnectionMethod(ctx context.Context) (ConnectionMethod, error)
	SetDataConnectionMethod(ctx context.Context, method ConnectionMethod) error
	GetTransportType(ctx context.Context) (TransportType, error)
	SetTransportType(ctx context.Context, transport TransportType) error
	IsUDPBroadcastEnabled(ctx context.Context) (bool, error)
	SetUDPBroadcastEnabled(ctx context.Context, enabled bool) error
	GetUDPPacketSize(ctx context.Context) (int, error)
	SetUDPPacketSize(ctx context.Context, size int) error
	GetDataConnectionHostname(ctx context.Context) (string, error)
	SetDataConnectionHostname(ctx context.Context, host string) error
	SetDataConnectionTimeout(ctx context.Context, seconds int) error

	IsDeliveryEnabled(ctx context.Context, key ChannelKey) (bool, error)
	SetDeliveryEnabled(ctx context.Context, key ChannelKey, enabled bool) error
	DisableAllDataDelivery(ctx context.Context) error
	IsMostRecentSampleEnabled(ctx context.Context, key ChannelKey) (bool, error)
	SetMostRecentSampleEnabled(ctx context.Context, key ChannelKey, enabled bool) error
	GetConnectionPort(ctx context.Context, key ChannelKey) (int, error)
	SetConnectionPort(ctx context.Context, key ChannelKey, port int) error

	GetBinaryEncoding(ctx context.Context, key ChannelKey) (Encoding, error)
	SetBinaryEncoding(ctx context.Context, key ChannelKey, enc Encoding) error
	// SetBinaryType changes the numeric type and keeps the current byte order.
	SetBinaryType(ctx context.Context, key ChannelKey, typ NumericType) error
	// SetBinaryEndian changes the byte order and keeps the current numeric type.
	SetBinaryEndian(ctx context.Context, key ChannelKey, endian Endianness) error

	GetMostRecentSample(ctx context.Context, key ChannelKey) (float64, error)
	// GetMostRecentSamples returns index -> value for channels of class that
	// have most-recent tracking enabled. Acquisition must be running.
	GetMostRecentSamples(ctx context.Context, class ChannelClass) (map[int]float64, error)

	IsAcquisitionInProgress(ctx context.Context) (bool, error)
	ToggleAcquisition(ctx context.Context) error
	LoadTemplate(ctx context.Context, template []byte) error
	SetOutputChannel(ctx context.Context, key ChannelKey, value float64) error
}
