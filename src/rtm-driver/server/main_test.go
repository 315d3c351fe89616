package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSystemInfo = &SystemInfo{MachineId: "abc", Os: "linux", Arch: "amd64"}

func stub(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

func TestRoutes(t *testing.T) {
	mux := NewMux([]string{"http://play.example"}, testSystemInfo, stub("rtm"), stub("log"))

	for _, testCase := range []struct {
		path     string
		expected string
	}{
		{"/rtm", "rtm"},
		{"/log", "log"},
	} {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest("GET", testCase.path, nil))
		assert.Equal(t, testCase.expected, recorder.Body.String())
	}

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var root map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &root))
	assert.Equal(t, map[string]string{
		"message":   "RTM Driver",
		"version":   "dev",
		"machineId": "abc",
		"os":        "linux",
		"arch":      "amd64",
	}, root)
}

func TestCorsHeaders(t *testing.T) {
	handler := corsHeaders([]string{"http://play.example"}, stub("ok"))

	request := httptest.NewRequest("GET", "/rtm", nil)
	request.Header.Set("Origin", "http://play.example")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, "http://play.example", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", recorder.Header().Get("Access-Control-Allow-Private-Network"))
	assert.Equal(t, "Origin", recorder.Header().Get("Vary"))
	assert.Equal(t, "ok", recorder.Body.String())

	request = httptest.NewRequest("GET", "/rtm", nil)
	request.Header.Set("Origin", "http://evil.example")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))

	request = httptest.NewRequest("OPTIONS", "/rtm", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, 200, recorder.Code)
	assert.Empty(t, recorder.Body.String())
}

func TestDriverFromEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "RTM Driver", Service: ServiceType, Domain: "local."},
	}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Port = 8384
	entry.Text = []string{"version=1.2.0", "machineId=abc", "os=linux"}

	driver := driverFromEntry(entry)
	assert.Equal(t, Driver{Instance: "RTM Driver", Address: "192.168.1.20", Port: 8384, Version: "1.2.0", MachineId: "abc"}, driver)
	assert.Equal(t, "RTM Driver ws://192.168.1.20:8384/rtm (version 1.2.0)", driver.String())
}

func TestTxtRecordsAdvertiseVersion(t *testing.T) {
	assert.Equal(t, []string{"version=dev", "machineId=abc", "os=linux"}, txtRecords(testSystemInfo))

	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "RTM Driver", Service: ServiceType, Domain: "local."},
		Text:          txtRecords(testSystemInfo),
		AddrIPv4:      []net.IP{net.ParseIP("10.0.0.2")},
	}
	assert.Equal(t, "dev", driverFromEntry(entry).Version)
}

func TestGetSystemInfo(t *testing.T) {
	systemInfo, _ := GetSystemInfo()
	require.NotNil(t, systemInfo)
	assert.NotEmpty(t, systemInfo.MachineId)
	assert.NotEmpty(t, systemInfo.Os)
}
