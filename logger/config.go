package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Config carries the logging settings for the library. The host fills one in
// and passes it to Up(); zero values give stderr-only logging with trace and
// debug disabled.
type Config struct {
	LogFilePath       string   // if non-empty, log entries are appended to this file
	LogToConsole      bool     // also log to stderr when LogFilePath is set
	TraceLevelLogging []string // package names to enable trace logging for ("none" disables)
	DebugLevelLogging []string // package names to enable debug logging for ("none" disables)
}

var logFile *os.File = nil

// multiWriter fans a log entry out to every registered target.
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	defer mw.Unlock()
	mw.writers = append(mw.writers, writer)
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()
	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		// regardless of errors, continue on to the other writers
	}
	return len(p), nil
}

var logTargets multiWriter

// Up initializes logging per the supplied Config.
func Up(config Config) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	if config.LogFilePath != "" {
		logFile, err = os.OpenFile(config.LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Errorf("couldn't open log file: %v", err)
			return err
		}
	}

	logTargets = multiWriter{}
	if config.LogFilePath != "" {
		logTargets.addWriter(logFile)
		if config.LogToConsole {
			logTargets.addWriter(os.Stderr)
		}
	} else {
		logTargets.addWriter(os.Stderr)
	}
	log.SetOutput(&logTargets)

	// NOTE: We always enable max logging in logrus, and decide in
	//       this package whether to log
	log.SetLevel(log.DebugLevel)

	setTraceLoggingLevel(config.TraceLevelLogging)
	setDebugLoggingLevel(config.DebugLevelLogging)

	return nil
}

// Down releases logging resources.
func Down() (err error) {
	// We open and close our own logfile
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	return
}

// AddLogTarget adds another target for log messages to be written to. writer
// is an object with an io.Writer interface that's called once for each log
// message.
//
// Up() must be called before this function is used.
//
func AddLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

// LogBuffer captures the most recent n lines of log into an array. Useful for
// writing test cases.
//
// There should really be a lock or clever RCU mechanism to coordinate
// access/updates to the array, but its not really necessary for test case code
// (and adds overhead).
//
type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

type LogTarget struct {
	LogBuf *LogBuffer
}

// Init sets a LogTarget to hold up to nEntry log entries.
//
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Write is called by logger for each log entry
//
func (target LogTarget) Write(p []byte) (n int, err error) {
	if len(target.LogBuf.LogEntries) > 0 {
		// shift the existing entries down one slot and prepend
		copy(target.LogBuf.LogEntries[1:], target.LogBuf.LogEntries)
		target.LogBuf.LogEntries[0] = string(p)
	}
	target.LogBuf.TotalEntries++
	return len(p), nil
}
