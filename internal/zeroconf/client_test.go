package zeroconf

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointFor(t *testing.T, ts *httptest.Server, cpath string) Endpoint {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{IP: host, Port: port, CPath: cpath}
}

// deadEndpoint returns an endpoint nothing listens on.
func deadEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return Endpoint{IP: "127.0.0.1", Port: port, CPath: "/spotifyconnect/zeroconf"}
}

func TestEndpointURL(t *testing.T) {
	ep := Endpoint{IP: "192.168.1.40", Port: 8200, CPath: "/spotifyconnect/zeroconf"}
	assert.Equal(t, "http://192.168.1.40:8200/spotifyconnect/zeroconf", ep.URL())
}

func TestClientGetInfo(t *testing.T) {
	t.Run("parses the device document", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/spotifyconnect/zeroconf", r.URL.Path)
			assert.Equal(t, "getInfo", r.URL.Query().Get("action"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"status": 101,
				"statusString": "OK",
				"remoteName": "Kitchen Speaker",
				"deviceID": "abc123",
				"activeUser": "someone",
				"publicKey": "cGs=",
				"deviceType": "SPEAKER"
			}`))
		}))
		defer ts.Close()

		client := NewClient()
		info, err := client.GetInfo(context.Background(), endpointFor(t, ts, "/spotifyconnect/zeroconf"))
		require.NoError(t, err)
		assert.Equal(t, "Kitchen Speaker", info.RemoteName)
		assert.Equal(t, "Kitchen Speaker", info.FriendlyName())
		assert.Equal(t, "abc123", info.DeviceID)
		assert.Equal(t, "someone", info.ActiveUser)
		assert.Equal(t, "cGs=", info.PublicKey)
	})

	t.Run("fails on non-2xx status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		client := NewClient()
		_, err := client.GetInfo(context.Background(), endpointFor(t, ts, "/spotifyconnect/zeroconf"))
		assert.Error(t, err)
	})

	t.Run("fails on invalid JSON", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>definitely not json</html>"))
		}))
		defer ts.Close()

		client := NewClient()
		_, err := client.GetInfo(context.Background(), endpointFor(t, ts, "/spotifyconnect/zeroconf"))
		assert.Error(t, err)
	})

	t.Run("fails when nothing listens", func(t *testing.T) {
		client := NewClient()
		_, err := client.GetInfo(context.Background(), deadEndpoint(t))
		assert.Error(t, err)
	})
}

func TestDeviceInfoFriendlyName(t *testing.T) {
	tests := []struct {
		name string
		info DeviceInfo
		want string
	}{
		{"remoteName wins", DeviceInfo{RemoteName: "Kitchen", DisplayName: "d", Name: "n"}, "Kitchen"},
		{"displayName next", DeviceInfo{DisplayName: "Lounge", Name: "n", DeviceName: "dn"}, "Lounge"},
		{"name next", DeviceInfo{Name: "Office", DeviceName: "dn"}, "Office"},
		{"deviceName next", DeviceInfo{DeviceName: "Bedroom", ModelDisplayName: "Play:5"}, "Bedroom"},
		{"modelDisplayName last", DeviceInfo{ModelDisplayName: "Play:5"}, "Play:5"},
		{"whitespace-only fields are skipped", DeviceInfo{RemoteName: "   ", Name: "Den"}, "Den"},
		{"empty document yields empty name", DeviceInfo{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.FriendlyName())
		})
	}
}

func TestClientAddUser(t *testing.T) {
	t.Run("access token mode sends the expected form", func(t *testing.T) {
		var form url.Values
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "addUser", r.URL.Query().Get("action"))
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			form = r.PostForm
			w.Write([]byte(`{"status": 101, "statusString": "OK"}`))
		}))
		defer ts.Close()

		client := NewClient()
		err := client.AddUserWithToken(context.Background(), endpointFor(t, ts, "/zc"), TokenCredentials{
			UserName:    "alarm_user",
			AccessToken: "tok-123",
		})
		require.NoError(t, err)

		assert.Equal(t, "addUser", form.Get("action"))
		assert.Equal(t, "alarm_user", form.Get("userName"))
		assert.Equal(t, "tok-123", form.Get("accessToken"))
		assert.Equal(t, "accesstoken", form.Get("tokenType"))
		assert.Equal(t, "2.9.0", form.Get("version"))
		_, err = uuid.Parse(form.Get("loginId"))
		assert.NoError(t, err, "loginId must be a uuid")
	})

	t.Run("blob mode sends blob and clientKey", func(t *testing.T) {
		var form url.Values
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			form = r.PostForm
			w.Write([]byte(`{"status": 101}`))
		}))
		defer ts.Close()

		client := NewClient()
		err := client.AddUserWithBlob(context.Background(), endpointFor(t, ts, "/zc"), BlobCredentials{
			UserName:  "alarm_user",
			Blob:      "YmxvYg==",
			ClientKey: "a2V5",
		})
		require.NoError(t, err)

		assert.Equal(t, "YmxvYg==", form.Get("blob"))
		assert.Equal(t, "a2V5", form.Get("clientKey"))
		assert.Equal(t, "default", form.Get("tokenType"))
		assert.Equal(t, "2.9.0", form.Get("version"))
		assert.Empty(t, form.Get("loginId"))
	})

	t.Run("status 101 counts as success even on http error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"status": 101, "statusString": "OK"}`))
		}))
		defer ts.Close()

		client := NewClient()
		err := client.AddUserWithToken(context.Background(), endpointFor(t, ts, "/zc"), TokenCredentials{
			UserName:    "alarm_user",
			AccessToken: "tok",
		})
		assert.NoError(t, err)
	})

	t.Run("device error envelope fails", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status": 402, "statusString": "ERROR-SPOTIFY-ERROR"}`))
		}))
		defer ts.Close()

		client := NewClient()
		err := client.AddUserWithToken(context.Background(), endpointFor(t, ts, "/zc"), TokenCredentials{
			UserName:    "alarm_user",
			AccessToken: "tok",
		})
		assert.Error(t, err)
	})

	t.Run("unreachable device fails", func(t *testing.T) {
		client := NewClient()
		err := client.AddUserWithToken(context.Background(), deadEndpoint(t), TokenCredentials{
			UserName:    "alarm_user",
			AccessToken: "tok",
		})
		assert.Error(t, err)
	})
}

func TestClientHealth(t *testing.T) {
	t.Run("responding device", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": 101}`))
		}))
		defer ts.Close()

		client := NewClient()
		status := client.Health(context.Background(), endpointFor(t, ts, "/zc"))
		assert.True(t, status.Responding)
		assert.Empty(t, status.Error)
		assert.GreaterOrEqual(t, status.ResponseTimeMS, int64(0))
	})

	t.Run("http error still counts as responding", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		}))
		defer ts.Close()

		client := NewClient()
		status := client.Health(context.Background(), endpointFor(t, ts, "/zc"))
		assert.True(t, status.Responding)
	})

	t.Run("unreachable device", func(t *testing.T) {
		client := NewClient()
		status := client.Health(context.Background(), deadEndpoint(t))
		assert.False(t, status.Responding)
		assert.NotEmpty(t, status.Error)
	})
}
