package control

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"

	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
)

// Remote method names.
const (
	methodGetUnitType                  = "acq.getMPUnitType"
	methodGetEnabledChannels           = "acq.getEnabledChannels"
	methodGetChannelScaling            = "acq.getChannelScaling"
	methodGetSamplingRate              = "acq.getSamplingRate"
	methodGetDownsamplingDivider       = "acq.getDownsamplingDivider"
	methodGetDataConnectionMethod      = "acq.getDataConnectionMethod"
	methodChangeDataConnectionMethod   = "acq.changeDataConnectionMethod"
	methodGetTransportType             = "acq.getTransportType"
	methodChangeTransportType          = "acq.changeTransportType"
	methodGetUDPBroadcastEnabled       = "acq.getUDPBroadcastEnabled"
	methodChangeUDPBroadcastEnabled    = "acq.changeUDPBroadcastEnabled"
	methodGetDataDeliveryEnabled       = "acq.getDataDeliveryEnabled"
	methodChangeDataDeliveryEnabled    = "acq.changeDataDeliveryEnabled"
	methodGetMostRecentEnabled         = "acq.getMostRecentSampleValueDeliveryEnabled"
	methodChangeMostRecentEnabled      = "acq.changeMostRecentSampleValueDeliveryEnabled"
	methodGetDataConnectionPort        = "acq.getDataConnectionPort"
	methodChangeDataConnectionPort     = "acq.changeDataConnectionPort"
	methodGetDataType                  = "acq.getDataType"
	methodChangeDataType               = "acq.changeDataType"
	methodGetMostRecentSampleValue     = "acq.getMostRecentSampleValue"
	methodGetMostRecentSampleArray     = "acq.getMostRecentSampleValueArray"
	methodGetAcquisitionInProgress     = "acq.getAcquisitionInProgress"
	methodToggleAcquisition            = "acq.toggleAcquisition"
	methodLoadTemplate                 = "acq.loadTemplate"
	methodSetUDPPacketSize             = "acq.setUDPPacketSize"
	methodGetUDPPacketSize             = "acq.getUDPPacketSize"
	methodGetDataConnectionHostname    = "acq.getDataConnectionHostname"
	methodChangeDataConnectionHostname = "acq.changeDataConnectionHostname"
	methodSetOutputChannel             = "acq.setOutputChannel"
	methodSetDataConnectionTimeoutSec  = "acq.setDataConnectionTimeoutSec"
)

// DefaultTimeout bounds every remote call unless overridden with WithTimeout.
const DefaultTimeout = 5 * time.Second

type wireChannel struct {
	Type  string `xmlrpc:"type"`
	Index int    `xmlrpc:"index"`
}

func toWire(key ChannelKey) wireChannel {
	return wireChannel{Type: string(key.Class), Index: key.Index}
}

type wireDataType struct {
	Type   string `xmlrpc:"type"`
	Endian string `xmlrpc:"endian"`
}

type wireScaling struct {
	Scale  float64 `xmlrpc:"scale"`
	Offset float64 `xmlrpc:"offset"`
}

type wireChannelValue struct {
	Channel wireChannel `xmlrpc:"channel"`
	Value   float64     `xmlrpc:"value"`
}

// Option configures an XMLRPCClient.
type Option func(*XMLRPCClient)

// WithTimeout sets the per-call deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *XMLRPCClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *XMLRPCClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records call counts and latencies.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *XMLRPCClient) {
		c.metrics = m
	}
}

// WithTransport overrides the HTTP transport used for calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *XMLRPCClient) {
		c.transport = rt
	}
}

// XMLRPCClient implements Client over XML-RPC at http://host:port/RPC2.
type XMLRPCClient struct {
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu      sync.Mutex
	addr    ServerAddress
	binding *xmlrpc.Client // nil until first call after construction or SetAddress
}

var _ Client = (*XMLRPCClient)(nil)

// NewXMLRPCClient creates a client bound to addr. No connection is made until the first call.
func NewXMLRPCClient(addr ServerAddress, opts ...Option) *XMLRPCClient {
	c := &XMLRPCClient{
		addr:    addr,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "control")
	}
	if c.transport == nil {
		c.transport = &http.Transport{
			DialContext:           (&net.Dialer{Timeout: c.timeout}).DialContext,
			ResponseHeaderTimeout: c.timeout,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	return c
}

// Address returns the server currently targeted.
func (c *XMLRPCClient) Address() ServerAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// SetAddress retargets the client. The old binding is closed.
func (c *XMLRPCClient) SetAddress(addr ServerAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if addr == c.addr {
		return
	}
	c.addr = addr
	if c.binding != nil {
		_ = c.binding.Close()
		c.binding = nil
	}
	c.logger.Info("control target changed", "server", addr.String())
}

// Close releases the RPC binding.
func (c *XMLRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.binding == nil {
		return nil
	}
	err := c.binding.Close()
	c.binding = nil
	return err
}

func (c *XMLRPCClient) bind() (*xmlrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.binding != nil {
		return c.binding, nil
	}
	if c.addr.IsZero() {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "XMLRPCClient", "bind", "server address not set")
	}
	binding, err := xmlrpc.NewClient(c.addr.URL(), c.transport)
	if err != nil {
		return nil, errors.WrapInvalid(err, "XMLRPCClient", "bind", "create xmlrpc binding")
	}
	c.binding = binding
	return binding, nil
}

// dropBinding discards a binding whose rpc loop has shut down.
func (c *XMLRPCClient) dropBinding(stale *xmlrpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binding == stale {
		_ = c.binding.Close()
		c.binding = nil
	}
}

// call runs one remote method. args is nil, a single value, or []any for
// several positional parameters.
func (c *XMLRPCClient) call(ctx context.Context, method string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return errors.NewProtocolError(method, err)
	}
	binding, err := c.bind()
	if err != nil {
		return errors.NewProtocolError(method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	pending := binding.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		err = done.Error
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.metrics.RecordRPC(method, err, time.Since(start))

	if err != nil {
		if stderrors.Is(err, rpc.ErrShutdown) {
			c.dropBinding(binding)
		}
		c.logger.Debug("remote call failed", "method", method, "error", err)
		return errors.NewProtocolError(method, err)
	}
	return nil
}

func (c *XMLRPCClient) GetUnitType(ctx context.Context) (int, error) {
	var unit int
	err := c.call(ctx, methodGetUnitType, nil, &unit)
	return unit, err
}

func (c *XMLRPCClient) GetSamplingRate(ctx context.Context) (float64, error) {
	var rate float64
	err := c.call(ctx, methodGetSamplingRate, nil, &rate)
	return rate, err
}

func (c *XMLRPCClient) GetSamplingRateDivider(ctx context.Context, key ChannelKey) (int, error) {
	var divider int
	err := c.call(ctx, methodGetDownsamplingDivider, toWire(key), &divider)
	return divider, err
}

func (c *XMLRPCClient) GetEnabledChannels(ctx context.Context, class ChannelClass) ([]int, error) {
	var indexes []int
	if err := c.call(ctx, methodGetEnabledChannels, string(class), &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// IsChannelEnabled reports whether the server's template enables key for acquisition.
func (c *XMLRPCClient) IsChannelEnabled(ctx context.Context, key ChannelKey) (bool, error) {
	indexes, err := c.GetEnabledChannels(ctx, key.Class)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx == key.Index {
			return true, nil
		}
	}
	return false, nil
}

func (c *XMLRPCClient) GetChannelScaling(ctx context.Context, key ChannelKey) (Scaling, error) {
	var s wireScaling
	if err := c.call(ctx, methodGetChannelScaling, toWire(key), &s); err != nil {
		return Scaling{}, err
	}
	return Scaling{Scale: s.Scale, Offset: s.Offset}, nil
}

func (c *XMLRPCClient) GetDataConnectionMethod(ctx context.Context) (ConnectionMethod, error) {
	var method string
	if err := c.call(ctx, methodGetDataConnectionMethod, nil, &method); err != nil {
		return "", err
	}
	switch m := ConnectionMethod(method); m {
	case SingleConnection, MultipleConnections:
		return m, nil
	default:
		return "", errors.UnexpectedShape(methodGetDataConnectionMethod, method)
	}
}

func (c *XMLRPCClient) SetDataConnectionMethod(ctx context.Context, method ConnectionMethod) error {
	return c.call(ctx, methodChangeDataConnectionMethod, string(method), nil)
}

func (c *XMLRPCClient) GetTransportType(ctx context.Context) (TransportType, error) {
	var transport string
	if err := c.call(ctx, methodGetTransportType, nil, &transport); err != nil {
		return "", err
	}
	switch t := TransportType(transport); t {
	case TCP, UDP:
		return t, nil
	default:
		return "", errors.UnexpectedShape(methodGetTransportType, transport)
	}
}

func (c *XMLRPCClient) SetTransportType(ctx context.Context, transport TransportType) error {
	return c.call(ctx, methodChangeTransportType, string(transport), nil)
}

func (c *XMLRPCClient) IsUDPBroadcastEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := c.call(ctx, methodGetUDPBroadcastEnabled, nil, &enabled)
	return enabled, err
}

func (c *XMLRPCClient) SetUDPBroadcastEnabled(ctx context.Context, enabled bool) error {
	return c.call(ctx, methodChangeUDPBroadcastEnabled, enabled, nil)
}

func (c *XMLRPCClient) GetUDPPacketSize(ctx context.Context) (int, error) {
	var size int
	err := c.call(ctx, methodGetUDPPacketSize, nil, &size)
	return size, err
}

func (c *XMLRPCClient) SetUDPPacketSize(ctx context.Context, size int) error {
	return c.call(ctx, methodSetUDPPacketSize, size, nil)
}

// GetDataConnectionHostname returns "" when the server connects back to the most recent caller.
func (c *XMLRPCClient) GetDataConnectionHostname(ctx context.Context) (string, error) {
	var host string
	err := c.call(ctx, methodGetDataConnectionHostname, nil, &host)
	return host, err
}

func (c *XMLRPCClient) SetDataConnectionHostname(ctx context.Context, host string) error {
	return c.call(ctx, methodChangeDataConnectionHostname, host, nil)
}

func (c *XMLRPCClient) SetDataConnectionTimeout(ctx context.Context, seconds int) error {
	return c.call(ctx, methodSetDataConnectionTimeoutSec, seconds, nil)
}

func (c *XMLRPCClient) IsDeliveryEnabled(ctx context.Context, key ChannelKey) (bool, error) {
	var enabled bool
	err := c.call(ctx, methodGetDataDeliveryEnabled, toWire(key), &enabled)
	return enabled, err
}

func (c *XMLRPCClient) SetDeliveryEnabled(ctx context.Context, key ChannelKey, enabled bool) error {
	return c.call(ctx, methodChangeDataDeliveryEnabled, []any{toWire(key), enabled}, nil)
}

// DisableAllDataDelivery turns delivery off for every enabled channel of every class.
func (c *XMLRPCClient) DisableAllDataDelivery(ctx context.Context) error {
	for _, class := range Classes {
		indexes, err := c.GetEnabledChannels(ctx, class)
		if err != nil {
			return err
		}
		for _, idx := range indexes {
			if err := c.SetDeliveryEnabled(ctx, ChannelKey{Class: class, Index: idx}, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *XMLRPCClient) IsMostRecentSampleEnabled(ctx context.Context, key ChannelKey) (bool, error) {
	var enabled bool
	err := c.call(ctx, methodGetMostRecentEnabled, toWire(key), &enabled)
	return enabled, err
}

func (c *XMLRPCClient) SetMostRecentSampleEnabled(ctx context.Context, key ChannelKey, enabled bool) error {
	return c.call(ctx, methodChangeMostRecentEnabled, []any{toWire(key), enabled}, nil)
}

func (c *XMLRPCClient) GetConnectionPort(ctx context.Context, key ChannelKey) (int, error) {
	var port int
	err := c.call(ctx, methodGetDataConnectionPort, toWire(key), &port)
	return port, err
}

func (c *XMLRPCClient) SetConnectionPort(ctx context.Context, key ChannelKey, port int) error {
	return c.call(ctx, methodChangeDataConnectionPort, []any{toWire(key), port}, nil)
}

func (c *XMLRPCClient) GetBinaryEncoding(ctx context.Context, key ChannelKey) (Encoding, error) {
	var dt wireDataType
	if err := c.call(ctx, methodGetDataType, toWire(key), &dt); err != nil {
		return Encoding{}, err
	}
	enc := Encoding{Type: NumericType(dt.Type), Endian: Endianness(dt.Endian)}
	if enc.Type == "" || enc.Endian == "" {
		return Encoding{}, errors.UnexpectedShape(methodGetDataType, fmt.Sprintf("%+v", dt))
	}
	return enc, nil
}

func (c *XMLRPCClient) SetBinaryEncoding(ctx context.Context, key ChannelKey, enc Encoding) error {
	dt := wireDataType{Type: string(enc.Type), Endian: string(enc.Endian)}
	return c.call(ctx, methodChangeDataType, []any{toWire(key), dt}, nil)
}

func (c *XMLRPCClient) SetBinaryType(ctx context.Context, key ChannelKey, typ NumericType) error {
	current, err := c.GetBinaryEncoding(ctx, key)
	if err != nil {
		return err
	}
	current.Type = typ
	return c.SetBinaryEncoding(ctx, key, current)
}

func (c *XMLRPCClient) SetBinaryEndian(ctx context.Context, key ChannelKey, endian Endianness) error {
	current, err := c.GetBinaryEncoding(ctx, key)
	if err != nil {
		return err
	}
	current.Endian = endian
	return c.SetBinaryEncoding(ctx, key, current)
}

func (c *XMLRPCClient) GetMostRecentSample(ctx context.Context, key ChannelKey) (float64, error) {
	var value float64
	err := c.call(ctx, methodGetMostRecentSampleValue, toWire(key), &value)
	return value, err
}

func (c *XMLRPCClient) GetMostRecentSamples(ctx context.Context, class ChannelClass) (map[int]float64, error) {
	var values []wireChannelValue
	if err := c.call(ctx, methodGetMostRecentSampleArray, nil, &values); err != nil {
		return nil, err
	}
	result := make(map[int]float64)
	for _, v := range values {
		if ChannelClass(v.Channel.Type) == class {
			result[v.Channel.Index] = v.Value
		}
	}
	return result, nil
}

func (c *XMLRPCClient) IsAcquisitionInProgress(ctx context.Context) (bool, error) {
	var running bool
	err := c.call(ctx, methodGetAcquisitionInProgress, nil, &running)
	return running, err
}

func (c *XMLRPCClient) ToggleAcquisition(ctx context.Context) error {
	return c.call(ctx, methodToggleAcquisition, nil, nil)
}

// LoadTemplate sends a graph template file; the bytes travel base64-encoded.
func (c *XMLRPCClient) LoadTemplate(ctx context.Context, template []byte) error {
	encoded := xmlrpc.Base64(base64.StdEncoding.EncodeToString(template))
	return c.call(ctx, methodLoadTemplate, encoded, nil)
}

func (c *XMLRPCClient) SetOutputChannel(ctx context.Context, key ChannelKey, value float64) error {
	return c.call(ctx, methodSetOutputChannel, []any{toWire(key), value}, nil)
}
