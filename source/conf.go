package source

import (
	"github.com/refractionPOINT/syslog-generator/utils"
)

type FileSourceConfig struct {
	LogOptions utils.LogOptions `json:"-" yaml:"-"`
	FilePath   string           `json:"file_path" yaml:"file_path"`
	EPS        uint32           `json:"eps" yaml:"eps"`
	// Count caps the total number of lines read, 0 means unlimited.
	Count        uint64 `json:"count" yaml:"count"`
	FileEncoding string `json:"file_encoding" yaml:"file_encoding"`
	// StateFile, when set, persists the read offset across restarts.
	StateFile string `json:"state_file" yaml:"state_file"`
	// CheckpointKey names the offset record in StateFile. Empty keys it by
	// the absolute FilePath. When set, FilePath is taken to be a fresh local
	// copy of that source, so the stored file identity is not restored.
	CheckpointKey string `json:"checkpoint_key" yaml:"checkpoint_key"`
	// DisableWatcher turns off rotation detection through fsnotify. File
	// identity is still compared on every tick.
	DisableWatcher bool `json:"disable_watcher" yaml:"disable_watcher"`
}
