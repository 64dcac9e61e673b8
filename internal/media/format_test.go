package media

import "testing"

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   Size
		wantOK bool
	}{
		{
			name:   "top-down raster",
			format: Format{Type: TypeVideoInfo, PixelFormat: "yuyv422", Width: 1280, Height: 720},
			want:   Size{1280, 720},
			wantOK: true,
		},
		{
			name:   "bottom-up raster",
			format: Format{Type: TypeVideoInfo, PixelFormat: "bgr24", Width: 640, Height: -480},
			want:   Size{640, 480},
			wantOK: true,
		},
		{
			name:   "dv stream",
			format: Format{Type: TypeStream, PixelFormat: "dvsd", Width: 720, Height: 480},
		},
		{
			name:   "raster without geometry",
			format: Format{Type: TypeVideoInfo, PixelFormat: "mjpeg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DisplaySize(tt.format)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("DisplaySize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatRequestApply(t *testing.T) {
	base := Format{Type: TypeVideoInfo, PixelFormat: "yuyv422", Width: 640, Height: 480, FPS: 30}

	got := FormatRequest{Width: 1920, Height: 1080}.Apply(base)
	want := Format{Type: TypeVideoInfo, PixelFormat: "yuyv422", Width: 1920, Height: 1080, FPS: 30}
	if got != want {
		t.Errorf("Apply() = %+v, want %+v", got, want)
	}

	got = FormatRequest{PixelFormat: "dvsd"}.Apply(base)
	if got.Type != TypeStream {
		t.Errorf("dvsd should switch type to stream, got %q", got.Type)
	}
}

func TestParseResolution(t *testing.T) {
	w, h, err := ParseResolution("1920x1080")
	if err != nil || w != 1920 || h != 1080 {
		t.Errorf("ParseResolution = %d, %d, %v", w, h, err)
	}
	if _, _, err := ParseResolution("1920"); err == nil {
		t.Error("expected error for missing height")
	}
}
