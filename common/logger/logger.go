package logger

import (
	"fmt"
	"os"
	"sync"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
)

var (
	Logger      glog.Logger
	initLogOnce sync.Once
)

// init initializes the logger automatically when the package is imported
func init() {
	initLogger()
}

func initLogger() {
	initLogOnce.Do(func() {
		var err error
		level := glog.LevelInfo
		if os.Getenv("DEBUG") == "true" {
			level = glog.LevelDebug
		}

		Logger, err = glog.NewConsoleWithName("ai-gateway", level)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// Setup attaches the hostname to the global logger and applies the effective
// log level once configuration has been loaded.
func Setup(debug bool) {
	hostname, err := os.Hostname()
	if err != nil {
		Logger.Panic("get hostname", zap.Error(err))
	}

	Logger = Logger.With(zap.String("host", hostname))

	if debug {
		_ = Logger.ChangeLevel("debug")
		Logger.Info("running in debug mode")
	} else {
		_ = Logger.ChangeLevel("info")
	}
}
