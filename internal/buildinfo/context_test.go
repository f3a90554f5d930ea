package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     *Context
		version string
		date    string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty context", &Context{}, UnknownValue, UnknownValue},
		{"populated", &Context{Version: "v1.2.3", BuildDate: "2026-10-01"}, "v1.2.3", "2026-10-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
		})
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	c := Current()
	assert.Equal(t, runtime.Version(), c.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, c.Platform)
	assert.Equal(t, "ingen@"+c.GetVersion(), c.Release())
}
