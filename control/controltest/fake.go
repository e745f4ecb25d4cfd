// Package controltest provides an in-memory acquisition server for tests of
// code built on control.Client.
package controltest

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
)

// ErrScripted is the cause of failures injected with Fail.
var ErrScripted = stderrors.New("scripted failure")

// Fake implements control.Client in memory. Every call is recorded by method
// name; methods named in Fail return a *errors.ProtocolError.
type Fake struct {
	mu sync.Mutex

	addr         control.ServerAddress
	unitType     int
	samplingRate float64
	enabled      map[control.ChannelKey]bool
	delivery     map[control.ChannelKey]bool
	mostRecent   map[control.ChannelKey]bool
	ports        map[control.ChannelKey]int
	encodings    map[control.ChannelKey]control.Encoding
	values       map[control.ChannelKey]float64
	scaling      map[control.ChannelKey]control.Scaling
	method       control.ConnectionMethod
	transport    control.TransportType
	hostname     string
	timeout      int
	running      bool
	toggles      int
	template     []byte

	failOn map[string]struct{}
	calls  []string
}

var _ control.Client = (*Fake)(nil)

// New returns a stopped server with the given channels enabled.
func New(enabled ...control.ChannelKey) *Fake {
	f := &Fake{
		addr:         control.ServerAddress{Host: "127.0.0.1", ControlPort: 16212},
		unitType:     1,
		samplingRate: 1000,
		enabled:      make(map[control.ChannelKey]bool),
		delivery:     make(map[control.ChannelKey]bool),
		mostRecent:   make(map[control.ChannelKey]bool),
		ports:        make(map[control.ChannelKey]int),
		encodings:    make(map[control.ChannelKey]control.Encoding),
		values:       make(map[control.ChannelKey]float64),
		scaling:      make(map[control.ChannelKey]control.Scaling),
		method:       control.SingleConnection,
		transport:    control.TCP,
		failOn:       make(map[string]struct{}),
	}
	for _, k := range enabled {
		f.enabled[k] = true
	}
	return f
}

// Fail makes the named methods return a protocol error until Heal.
func (f *Fake) Fail(methods ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range methods {
		f.failOn[m] = struct{}{}
	}
}

// Heal clears all injected failures.
func (f *Fake) Heal() {
	f.mu.Lock()
	clear(f.failOn)
	f.mu.Unlock()
}

// Calls returns the recorded method names in call order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how often method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Running reports the acquisition flag.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// SetRunning forces the acquisition flag.
func (f *Fake) SetRunning(on bool) {
	f.mu.Lock()
	f.running = on
	f.mu.Unlock()
}

// Toggles returns the number of successful ToggleAcquisition calls.
func (f *Fake) Toggles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggles
}

// Port returns the data port configured for key, or 0.
func (f *Fake) Port(key control.ChannelKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[key]
}

// Delivering reports whether data delivery is enabled for key.
func (f *Fake) Delivering(key control.ChannelKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivery[key]
}

// Template returns the last template received.
func (f *Fake) Template() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.template
}

// DataConnectionTimeout returns the last timeout set, in seconds.
func (f *Fake) DataConnectionTimeout() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

// SetValue sets the most recent sample reported for key.
func (f *Fake) SetValue(key control.ChannelKey, v float64) {
	f.mu.Lock()
	f.values[key] = v
	f.mu.Unlock()
}

// SetEnabled enables or disables a hardware channel.
func (f *Fake) SetEnabled(key control.ChannelKey, on bool) {
	f.mu.Lock()
	f.enabled[key] = on
	f.mu.Unlock()
}

// enter records method and returns its injected failure. Callers hold no lock.
func (f *Fake) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if _, ok := f.failOn[method]; ok {
		return errors.NewProtocolError(method, ErrScripted)
	}
	return nil
}

func (f *Fake) Address() control.ServerAddress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

func (f *Fake) SetAddress(addr control.ServerAddress) {
	f.mu.Lock()
	f.addr = addr
	f.mu.Unlock()
}

func (f *Fake) GetUnitType(context.Context) (int, error) {
	if err := f.enter("GetUnitType"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unitType, nil
}

func (f *Fake) GetSamplingRate(context.Context) (float64, error) {
	if err := f.enter("GetSamplingRate"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samplingRate, nil
}

func (f *Fake) GetSamplingRateDivider(context.Context, control.ChannelKey) (int, error) {
	if err := f.enter("GetSamplingRateDivider"); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *Fake) GetEnabledChannels(_ context.Context, class control.ChannelClass) ([]int, error) {
	if err := f.enter("GetEnabledChannels"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for k, on := range f.enabled {
		if on && k.Class == class {
			out = append(out, k.Index)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *Fake) IsChannelEnabled(_ context.Context, key control.ChannelKey) (bool, error) {
	if err := f.enter("IsChannelEnabled"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[key], nil
}

func (f *Fake) GetChannelScaling(_ context.Context, key control.ChannelKey) (control.Scaling, error) {
	if err := f.enter("GetChannelScaling"); err != nil {
		return control.Scaling{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scaling[key]; ok {
		return s, nil
	}
	return control.Scaling{Scale: 1}, nil
}

func (f *Fake) GetDataConnectionMethod(context.Context) (control.ConnectionMethod, error) {
	if err := f.enter("GetDataConnectionMethod"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.method, nil
}

func (f *Fake) SetDataConnectionMethod(_ context.Context, method control.ConnectionMethod) error {
	if err := f.enter("SetDataConnectionMethod"); err != nil {
		return err
	}
	f.mu.Lock()
	f.method = method
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetTransportType(context.Context) (control.TransportType, error) {
	if err := f.enter("GetTransportType"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transport, nil
}

func (f *Fake) SetTransportType(_ context.Context, transport control.TransportType) error {
	if err := f.enter("SetTransportType"); err != nil {
		return err
	}
	f.mu.Lock()
	f.transport = transport
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsUDPBroadcastEnabled(context.Context) (bool, error) {
	return false, f.enter("IsUDPBroadcastEnabled")
}

func (f *Fake) SetUDPBroadcastEnabled(context.Context, bool) error {
	return f.enter("SetUDPBroadcastEnabled")
}

func (f *Fake) GetUDPPacketSize(context.Context) (int, error) {
	if err := f.enter("GetUDPPacketSize"); err != nil {
		return 0, err
	}
	return 1024, nil
}

func (f *Fake) SetUDPPacketSize(context.Context, int) error {
	return f.enter("SetUDPPacketSize")
}

func (f *Fake) GetDataConnectionHostname(context.Context) (string, error) {
	if err := f.enter("GetDataConnectionHostname"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hostname, nil
}

func (f *Fake) SetDataConnectionHostname(_ context.Context, host string) error {
	if err := f.enter("SetDataConnectionHostname"); err != nil {
		return err
	}
	f.mu.Lock()
	f.hostname = host
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetDataConnectionTimeout(_ context.Context, seconds int) error {
	if err := f.enter("SetDataConnectionTimeout"); err != nil {
		return err
	}
	f.mu.Lock()
	f.timeout = seconds
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsDeliveryEnabled(_ context.Context, key control.ChannelKey) (bool, error) {
	if err := f.enter("IsDeliveryEnabled"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivery[key], nil
}

func (f *Fake) SetDeliveryEnabled(_ context.Context, key control.ChannelKey, enabled bool) error {
	if err := f.enter("SetDeliveryEnabled"); err != nil {
		return err
	}
	f.mu.Lock()
	f.delivery[key] = enabled
	f.mu.Unlock()
	return nil
}

func (f *Fake) DisableAllDataDelivery(context.Context) error {
	if err := f.enter("DisableAllDataDelivery"); err != nil {
		return err
	}
	f.mu.Lock()
	clear(f.delivery)
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsMostRecentSampleEnabled(_ context.Context, key control.ChannelKey) (bool, error) {
	if err := f.enter("IsMostRecentSampleEnabled"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mostRecent[key], nil
}

func (f *Fake) SetMostRecentSampleEnabled(_ context.Context, key control.ChannelKey, enabled bool) error {
	if err := f.enter("SetMostRecentSampleEnabled"); err != nil {
		return err
	}
	f.mu.Lock()
	f.mostRecent[key] = enabled
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetConnectionPort(_ context.Context, key control.ChannelKey) (int, error) {
	if err := f.enter("GetConnectionPort"); err != nil {
		return 0, err
	}
	return f.Port(key), nil
}

func (f *Fake) SetConnectionPort(_ context.Context, key control.ChannelKey, port int) error {
	if err := f.enter("SetConnectionPort"); err != nil {
		return err
	}
	f.mu.Lock()
	f.ports[key] = port
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetBinaryEncoding(_ context.Context, key control.ChannelKey) (control.Encoding, error) {
	if err := f.enter("GetBinaryEncoding"); err != nil {
		return control.Encoding{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if enc, ok := f.encodings[key]; ok {
		return enc, nil
	}
	return control.DefaultEncoding, nil
}

func (f *Fake) SetBinaryEncoding(_ context.Context, key control.ChannelKey, enc control.Encoding) error {
	if err := f.enter("SetBinaryEncoding"); err != nil {
		return err
	}
	f.mu.Lock()
	f.encodings[key] = enc
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetBinaryType(ctx context.Context, key control.ChannelKey, typ control.NumericType) error {
	enc, err := f.GetBinaryEncoding(ctx, key)
	if err != nil {
		return err
	}
	enc.Type = typ
	return f.SetBinaryEncoding(ctx, key, enc)
}

func (f *Fake) SetBinaryEndian(ctx context.Context, key control.ChannelKey, endian control.Endianness) error {
	enc, err := f.GetBinaryEncoding(ctx, key)
	if err != nil {
		return err
	}
	enc.Endian = endian
	return f.SetBinaryEncoding(ctx, key, enc)
}

func (f *Fake) GetMostRecentSample(_ context.Context, key control.ChannelKey) (float64, error) {
	if err := f.enter("GetMostRecentSample"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *Fake) GetMostRecentSamples(_ context.Context, class control.ChannelClass) (map[int]float64, error) {
	if err := f.enter("GetMostRecentSamples"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]float64)
	for k, on := range f.mostRecent {
		if on && k.Class == class {
			out[k.Index] = f.values[k]
		}
	}
	return out, nil
}

func (f *Fake) IsAcquisitionInProgress(context.Context) (bool, error) {
	if err := f.enter("IsAcquisitionInProgress"); err != nil {
		return false, err
	}
	return f.Running(), nil
}

func (f *Fake) ToggleAcquisition(context.Context) error {
	if err := f.enter("ToggleAcquisition"); err != nil {
		return err
	}
	f.mu.Lock()
	f.running = !f.running
	f.toggles++
	f.mu.Unlock()
	return nil
}

func (f *Fake) LoadTemplate(_ context.Context, template []byte) error {
	if err := f.enter("LoadTemplate"); err != nil {
		return err
	}
	f.mu.Lock()
	f.template = append([]byte(nil), template...)
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetOutputChannel(_ context.Context, key control.ChannelKey, value float64) error {
	if err := f.enter("SetOutputChannel"); err != nil {
		return err
	}
	f.SetValue(key, value)
	return nil
}

// SendSamples plays the server side of a data connection: it dials port on
// the loopback interface and writes values as big-endian doubles. The
// connection stays open until the test ends.
func SendSamples(t testing.TB, port int, values ...float64) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	buf := make([]byte, 0, 8*len(values))
	for _, v := range values {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	}
	_, err = conn.Write(buf)
	require.NoError(t, err)
	return conn
}

// Keys parses channel keys, failing the test on a bad one.
func Keys(t testing.TB, specs ...string) []control.ChannelKey {
	t.Helper()
	out := make([]control.ChannelKey, 0, len(specs))
	for _, s := range specs {
		k, err := control.ParseChannelKey(strings.TrimSpace(s))
		require.NoError(t, err)
		out = append(out, k)
	}
	return out
}
