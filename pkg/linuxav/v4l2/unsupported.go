//go:build !linux || !(amd64 || arm64)

package v4l2

func FindDevices() ([]DeviceInfo, error) { return []DeviceInfo{}, nil }

func QueryCapability(string) (Capability, error) { return Capability{}, ErrUnsupported }

func GetFormats(string) ([]FormatInfo, error) { return nil, ErrUnsupported }

func GetFormat(string) (PixFormat, error) { return PixFormat{}, ErrUnsupported }

func CountInputs(string) (int, error) { return 0, ErrUnsupported }
