package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseOptions(t *testing.T) {
	defaults := options{
		listen:   "127.0.0.1:8080",
		mode:     modeWebSocket,
		path:     "/stream",
		interval: 100 * time.Millisecond,
		logLevel: "info",
	}

	tests := []struct {
		name    string
		args    []string
		want    func(o *options)
		wantErr bool
	}{
		{
			name: "defaults",
			want: func(*options) {},
		},
		{
			name: "tcp legacy",
			args: []string{"-mode", "TCP", "-listen", ":3333", "-legacy", "-interval", "20ms"},
			want: func(o *options) {
				o.mode = modeTCP
				o.listen = ":3333"
				o.legacy = true
				o.interval = 20 * time.Millisecond
			},
		},
		{
			name:    "unknown mode",
			args:    []string{"-mode", "udp"},
			wantErr: true,
		},
		{
			name:    "relative path",
			args:    []string{"-path", "stream"},
			wantErr: true,
		},
		{
			name:    "zero interval",
			args:    []string{"-interval", "0s"},
			wantErr: true,
		},
		{
			name:    "positional argument",
			args:    []string{"extra"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		got, err := parseOptions(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got nil", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		want := defaults
		tc.want(&want)
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(options{})); diff != "" {
			t.Fatalf("%s: unexpected options (-want +got):\n%s", tc.name, diff)
		}
	}
}
