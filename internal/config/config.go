package config

// Config is the root configuration for a cfdb node.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Server ServerConfig `yaml:"http-server"`
	DB     DBConfig     `yaml:"db"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// DBConfig covers on-disk layout and engine sizing.
type DBConfig struct {
	Path               string         `yaml:"path" validate:"required"`
	WALDir             string         `yaml:"wal_dir"`
	SegmentSizeBytes   int64          `yaml:"wal_segment_size" validate:"min=0"`
	MemtableFlushBytes uint64         `yaml:"memtable_flush_threshold" validate:"min=0"`
	ColumnFamilies     []FamilyConfig `yaml:"column_families"`
}

// FamilyConfig declares a column family the node ensures exists at startup,
// with its merge operator.
type FamilyConfig struct {
	Name string `yaml:"name" validate:"required"`

	// MergeOperator is one of "", "uint64add", "append".
	MergeOperator string `yaml:"merge_operator" validate:"oneof='' uint64add append"`

	// AppendDelimiter is used by the "append" operator.
	AppendDelimiter string `yaml:"append_delimiter"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		DB: DBConfig{
			Path:               "./data",
			SegmentSizeBytes:   4 * 1024 * 1024,
			MemtableFlushBytes: 4 * 1024 * 1024,
		},
	}
}
