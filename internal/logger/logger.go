// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package logger

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Init configures standard logrus logger.
func Init(level log.Level, json bool) {
	InitWithOutput(os.Stderr, level, json)
}

// InitWithOutput configures standard logrus logger to write into out.
func InitWithOutput(out io.Writer, level log.Level, json bool) {
	log.SetOutput(out)
	log.SetLevel(level)

	if json {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}
