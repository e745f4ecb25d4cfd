package control

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// rpcCall is one decoded request seen by fakeServer.
type rpcCall struct {
	Method string
	Params []any
}

// rpcHandler returns the XML of a <value> body, or a fault.
type rpcHandler func(params []any) (value string, fault *rpcFault)

type rpcFault struct {
	Code    int
	Message string
}

// fakeServer is a minimal XML-RPC acquisition server.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	calls    []rpcCall
	handlers map[string]rpcHandler
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, handlers: make(map[string]rpcHandler)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) address() ServerAddress {
	u, err := url.Parse(f.srv.URL)
	require.NoError(f.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(f.t, err)
	return ServerAddress{Host: u.Hostname(), ControlPort: port}
}

func (f *fakeServer) handle(method string, h rpcHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// reply registers a handler that always returns value.
func (f *fakeServer) reply(method, value string) {
	f.handle(method, func([]any) (string, *rpcFault) { return value, nil })
}

func (f *fakeServer) callsTo(method string) []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpcCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/RPC2" {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var mc xmlMethodCall
	if err := xml.Unmarshal(body, &mc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := make([]any, len(mc.Params))
	for i, p := range mc.Params {
		params[i] = p.decode()
	}

	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{Method: mc.Method, Params: params})
	h, ok := f.handlers[mc.Method]
	f.mu.Unlock()

	var value string
	var fault *rpcFault
	if ok {
		value, fault = h(params)
	} else if strings.Contains(mc.Method, ".change") || strings.Contains(mc.Method, ".set") ||
		mc.Method == methodToggleAcquisition || mc.Method == methodLoadTemplate {
		value = xBool(true)
	} else {
		fault = &rpcFault{Code: 1, Message: "unknown method " + mc.Method}
	}

	w.Header().Set("Content-Type", "text/xml")
	if fault != nil {
		_, _ = fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse><fault><value>%s</value></fault></methodResponse>`,
			xStruct("faultCode", xInt(fault.Code), "faultString", xString(fault.Message)))
		return
	}
	_, _ = fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse><params><param><value>%s</value></param></params></methodResponse>`, value)
}

func xInt(n int) string        { return fmt.Sprintf("<int>%d</int>", n) }
func xDouble(v float64) string { return fmt.Sprintf("<double>%s</double>", strconv.FormatFloat(v, 'f', -1, 64)) }
func xString(s string) string  { return fmt.Sprintf("<string>%s</string>", s) }

func xBool(b bool) string {
	if b {
		return "<boolean>1</boolean>"
	}
	return "<boolean>0</boolean>"
}

func xArray(values ...string) string {
	var b strings.Builder
	b.WriteString("<array><data>")
	for _, v := range values {
		b.WriteString("<value>" + v + "</value>")
	}
	b.WriteString("</data></array>")
	return b.String()
}

// xStruct takes alternating member names and value XML.
func xStruct(kv ...string) string {
	var b strings.Builder
	b.WriteString("<struct>")
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString("<member><name>" + kv[i] + "</name><value>" + kv[i+1] + "</value></member>")
	}
	b.WriteString("</struct>")
	return b.String()
}

func xChannel(class string, index int) string {
	return xStruct("type", xString(class), "index", xInt(index))
}

type xmlMethodCall struct {
	XMLName xml.Name   `xml:"methodCall"`
	Method  string     `xml:"methodName"`
	Params  []xmlValue `xml:"params>param>value"`
}

type xmlValue struct {
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Double  *string    `xml:"double"`
	Boolean *string    `xml:"boolean"`
	Str     *string    `xml:"string"`
	Base64  *string    `xml:"base64"`
	Struct  *xmlStruct `xml:"struct"`
	Array   *xmlArray  `xml:"array"`
	Text    string     `xml:",chardata"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

// decode maps XML-RPC values onto int, float64, bool, string, []byte,
// map[string]any and []any.
func (v xmlValue) decode() any {
	switch {
	case v.Int != nil:
		n, _ := strconv.Atoi(strings.TrimSpace(*v.Int))
		return n
	case v.I4 != nil:
		n, _ := strconv.Atoi(strings.TrimSpace(*v.I4))
		return n
	case v.Double != nil:
		f, _ := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		return f
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean) == "1"
	case v.Str != nil:
		return *v.Str
	case v.Base64 != nil:
		b, _ := base64.StdEncoding.DecodeString(strings.TrimSpace(*v.Base64))
		return b
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, member := range v.Struct.Members {
			m[member.Name] = member.Value.decode()
		}
		return m
	case v.Array != nil:
		out := make([]any, len(v.Array.Values))
		for i, item := range v.Array.Values {
			out[i] = item.decode()
		}
		return out
	default:
		return v.Text
	}
}

func channelParam(class string, index int) map[string]any {
	return map[string]any{"type": class, "index": index}
}
