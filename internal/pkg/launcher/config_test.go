package launcher

import "testing"

func TestConfigRoundTrip(t *testing.T) {
	want := &stageConfig{
		NewWorkDir:    "/work",
		DevProcSys:    true,
		UnshareNet:    true,
		GidFiveMapped: true,
		BindMounts: []BindMount{
			{Source: "/host/data", Target: "/data", Mapped: true},
		},
		InitialUID: 1000,
		InitialGID: 1000,
		Command:    []string{"/bin/sh", "-c", "echo hi"},
		Debug:      true,
	}

	encoded, err := encodeConfig(want)
	if err != nil {
		t.Fatalf("encodeConfig: %v", err)
	}

	got, err := decodeConfig(encoded)
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}

	if got.NewWorkDir != want.NewWorkDir || got.DevProcSys != want.DevProcSys ||
		got.UnshareNet != want.UnshareNet || got.GidFiveMapped != want.GidFiveMapped ||
		got.InitialUID != want.InitialUID || got.InitialGID != want.InitialGID ||
		len(got.Command) != len(want.Command) || len(got.BindMounts) != len(want.BindMounts) {
		t.Errorf("decodeConfig() = %+v, want %+v", got, want)
	}
	if got.BindMounts[0] != want.BindMounts[0] {
		t.Errorf("BindMounts[0] = %+v, want %+v", got.BindMounts[0], want.BindMounts[0])
	}
}
