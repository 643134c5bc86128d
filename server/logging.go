package server

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}

// SetupLogging sends the process log to a rotated file, or to stderr if file
// is empty. Closing the result closes the file.
func SetupLogging(file string) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if file == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	logger := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	log.SetOutput(logger)
	return logger
}
