package cfg

import (
	"io"
	"os"
	"time"

	"dropiq-ml/internal/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the global zerolog logger. Console output is
// human-readable; when LogFile is set, JSON lines are also written to a
// rotating file. The returned closer flushes that file.
func SetupLogging(s Settings, console bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if s.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	log.Logger = zerolog.New(out).With().Timestamp().Str("service", common.ServiceName).Logger()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
