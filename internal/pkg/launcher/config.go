package launcher

import "encoding/json"

// stageConfig is the subset of Params a reexec'd stage needs to
// reconstruct its behavior, carried across the exec boundary as JSON in
// an environment variable. Identity mappings themselves are installed
// from outside (writeMaps, run against the child's pid from the
// launcher process) and are not needed here; only the single derived
// fact the child's own mount step depends on (whether gid 5 is mapped,
// for devpts's gid= option) is threaded through.
type stageConfig struct {
	NewWorkDir    string
	DevProcSys    bool
	UnshareNet    bool
	GidFiveMapped bool
	BindMounts    []BindMount
	InitialUID    uint32
	InitialGID    uint32
	Command       []string
	Debug         bool
}

const configEnvVar = "_UCHROOT_CONFIG"

func encodeConfig(c *stageConfig) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeConfig(s string) (*stageConfig, error) {
	var c stageConfig
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
