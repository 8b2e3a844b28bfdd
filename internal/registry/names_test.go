package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

func TestResolveFriendlyName(t *testing.T) {
	cases := []struct {
		name string
		res  discovery.Result
		info *zeroconf.DeviceInfo
		want string
	}{
		{
			name: "device-reported name beats everything",
			res: discovery.Result{
				InstanceName: "kitchen123._spotify-connect._tcp.local.",
				TXT:          map[string]string{"CN": "TXT Kitchen"},
			},
			info: &zeroconf.DeviceInfo{RemoteName: "Kitchen Speaker"},
			want: "Kitchen Speaker",
		},
		{
			name: "getInfo fields fall through in priority order",
			res:  discovery.Result{InstanceName: "kitchen123"},
			info: &zeroconf.DeviceInfo{RemoteName: "   ", DisplayName: "Display Kitchen"},
			want: "Display Kitchen",
		},
		{
			name: "TXT record when getInfo gave nothing",
			res: discovery.Result{
				InstanceName: "kitchen123._spotify-connect._tcp.local.",
				TXT:          map[string]string{"CN": "TXT Kitchen"},
			},
			info: &zeroconf.DeviceInfo{},
			want: "TXT Kitchen",
		},
		{
			name: "TXT record when device never answered",
			res: discovery.Result{
				InstanceName: "kitchen123",
				TXT:          map[string]string{"FriendlyName": "Friendly Kitchen"},
			},
			info: nil,
			want: "Friendly Kitchen",
		},
		{
			name: "cleaned instance name strips the service suffix",
			res:  discovery.Result{InstanceName: "Kitchen._spotify-connect._tcp.local."},
			info: nil,
			want: "Kitchen",
		},
		{
			name: "too-short cleanup keeps the raw instance name",
			res:  discovery.Result{InstanceName: "AB._spotify-connect._tcp.local."},
			info: nil,
			want: "AB._spotify-connect._tcp.local.",
		},
		{
			name: "instance name without suffix passes through",
			res:  discovery.Result{InstanceName: "Nils' Speaker"},
			info: nil,
			want: "Nils' Speaker",
		},
		{
			name: "whitespace getInfo values are skipped entirely",
			res:  discovery.Result{InstanceName: "Office._spotify-connect._tcp.local."},
			info: &zeroconf.DeviceInfo{RemoteName: " ", DisplayName: "\t", Name: ""},
			want: "Office",
		},
		{
			name: "everything empty yields empty",
			res:  discovery.Result{},
			info: nil,
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveFriendlyName(tc.res, tc.info))
		})
	}
}
