package utils

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

// InitLogger configures the shared logrus logger. format is "easy" for the
// compact console layout, "json" for log shippers, anything else for the
// logrus text formatter (which keeps structured fields).
func InitLogger(level, format string) {
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "easy":
		logrus.SetFormatter(&easy.Formatter{
			TimestampFormat: "01-02 15:04:05.000",
			LogFormat:       "[%lvl%]   [%time%]   -   %msg%\n",
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("[LOG] unknown level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
