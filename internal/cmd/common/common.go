package common

import "fmt"

// OutputFormat selects how command results are rendered.
type OutputFormat int

type LogLevel int

type ColorMode int

const (
	JSON OutputFormat = iota
	YAML
	TEXT
)

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	ColorModeAuto ColorMode = iota
	ColorModeAlways
	ColorModeNever
)

const (
	// related to the --output flag
	DefaultOutputFormat = "text"
	OutputFlagName      = "output"
	OutputFlagShort     = "o"
	OutputConfigPath    = OutputFlagName

	// related to the --color flag
	ColorFlagName    = "color"
	ColorConfigPath  = ColorFlagName
	DefaultColorMode = "auto"

	// related to the --profile flag
	ProfileFlagName  = "profile"
	ProfileFlagShort = "p"

	// related to the --config-file flag
	ConfigFilePathFlagName = "config-file"

	// related to the --log-level flag
	LogLevelFlagName   = "log-level"
	DefaultLogLevel    = "info"
	LogLevelConfigPath = LogLevelFlagName

	// DevBot service settings
	BaseURLFlagName   = "base-url"
	BaseURLConfigPath = "devbot.base-url"
	TokenFlagName     = "token"
	TokenConfigPath   = "devbot.token"
	ModelFlagName     = "model"
	ModelConfigPath   = "devbot.model"

	// background task polling, tunable per profile
	PollIntervalConfigPath = "devbot.poll-interval-seconds"
	PollAttemptsConfigPath = "devbot.poll-attempts"
)

var (
	outputFormatNames = []string{"json", "yaml", "text"}
	logLevelNames     = []string{"trace", "debug", "info", "warn", "error"}
	colorModeNames    = []string{"auto", "always", "never"}
)

func (of OutputFormat) String() string {
	return outputFormatNames[of]
}

func OutputFormatStringToIota(format string) (OutputFormat, error) {
	for i, name := range outputFormatNames {
		if name == format {
			return OutputFormat(i), nil
		}
	}
	return TEXT, fmt.Errorf("invalid output format %q, must be one of %v", format, outputFormatNames)
}

func (ll LogLevel) String() string {
	return logLevelNames[ll]
}

func LogLevelStringToIota(level string) (LogLevel, error) {
	for i, name := range logLevelNames {
		if name == level {
			return LogLevel(i), nil
		}
	}
	return ERROR, fmt.Errorf("invalid log level %q, must be one of %v", level, logLevelNames)
}

func (cm ColorMode) String() string {
	if cm < ColorModeAuto || cm > ColorModeNever {
		return "auto"
	}
	return colorModeNames[cm]
}

// ColorModeStringToIota treats an unset value as auto.
func ColorModeStringToIota(mode string) (ColorMode, error) {
	if mode == "" {
		return ColorModeAuto, nil
	}
	for i, name := range colorModeNames {
		if name == mode {
			return ColorMode(i), nil
		}
	}
	return ColorModeAuto, fmt.Errorf("invalid color mode %q, must be one of %v", mode, colorModeNames)
}
