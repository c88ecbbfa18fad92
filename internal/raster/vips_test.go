package raster

import (
	"bytes"
	"context"
	"testing"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
)

// NOTE: govips cannot be restarted once shut down, so these tests never call
// ShutdownVips.

func TestVipsLogSettings(t *testing.T) {
	for _, level := range []logging.LogLevel{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError} {
		_, handler := vipsLogSettings(level)
		if handler == nil {
			t.Errorf("no handler for %v", level)
		}
	}
}

func TestVipsScaler(t *testing.T) {
	if err := InitVips(1); err != nil {
		t.Logf("libvips not available in test environment: %v", err)
		return
	}
	if err := InitVips(1); err != nil {
		t.Errorf("second InitVips() call failed: %v", err)
	}

	var src bytes.Buffer
	if err := Encode(&src, gradient(2000, 1000), artifacts.ExtJPG, 0); err != nil {
		t.Fatal(err)
	}

	var dst bytes.Buffer
	dims, err := VipsScaler{}.Scale(context.Background(), &src, 1024, artifacts.ExtJPG, &dst)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if dims.Width != 1024 || dims.Height != 512 {
		t.Errorf("dims = %+v, want 1024x512", dims)
	}
	got, err := DecodeDimensions(&dst)
	if err != nil {
		t.Fatal(err)
	}
	if got != dims {
		t.Errorf("encoded dims = %+v, want %+v", got, dims)
	}
}
