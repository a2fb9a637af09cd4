package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/empatia/internal/config"
)

func TestMerraBand(t *testing.T) {
	hourly := config.MerraDataset{ShortName: "M2T1NXAER"}
	threeHourly := config.MerraDataset{ShortName: "M2I3NVASM", ThreeHourly: true}

	tests := []struct {
		hour int
		ds   config.MerraDataset
		want int
	}{
		{12, hourly, 1},
		{14, hourly, 3},
		{20, hourly, 9},
		{12, threeHourly, 1},
		{14, threeHourly, 1},
		{15, threeHourly, 2},
		{20, threeHourly, 3},
	}
	for _, tt := range tests {
		if got := MerraBand(tt.hour, tt.ds); got != tt.want {
			t.Errorf("MerraBand(%d, %s) = %d, want %d", tt.hour, tt.ds.ShortName, got, tt.want)
		}
	}
}

func TestFeatureStack(t *testing.T) {
	tests := []struct {
		name   string
		inputs []string
		domain string
		night  string
		want   string
	}{
		{
			name:   "full",
			inputs: []string{"/w/T_14_Terra.tif", "/w/AOD047_14_Terra.tif", "/w/PBLH_14_Terra.tif", "/w/ALBEDO_14_Terra.tif", "/w/BCCMASS_14_Terra.tif"},
			domain: "/d/domain.tif",
			night:  "/p/viirs.tif",
			want:   "/w/ALBEDO_14_Terra.tif,/w/AOD047_14_Terra.tif,/w/BCCMASS_14_Terra.tif,/w/PBLH_14_Terra.tif,/d/domain.tif,/w/T_14_Terra.tif,/p/viirs.tif",
		},
		{
			name:   "short stack",
			inputs: []string{"/w/b.tif", "/w/a.tif"},
			domain: "/d/domain.tif",
			want:   "/w/a.tif,/w/b.tif,/d/domain.tif",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(featureStack(tt.inputs, tt.domain, tt.night), ",")
			if got != tt.want {
				t.Errorf("featureStack = %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestRetryOnce_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := retryOnce(ctx, 0, func() (int, error) {
		calls++
		return 0, &TransientFetchError{Op: "GET", Err: errors.New("timeout")}
	})
	if err == nil {
		t.Error("expected error")
	}
	if calls > 2 {
		t.Errorf("calls = %d, want at most 2", calls)
	}
}

func TestIsTransient(t *testing.T) {
	wrapped := errors.Join(errors.New("other"), &TransientFetchError{Op: "GET", Err: errors.New("503")})
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error not detected")
	}
	if IsTransient(errors.New("404")) {
		t.Error("plain error reported as transient")
	}
}
