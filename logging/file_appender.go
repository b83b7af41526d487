package logging

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation limits.
const (
	fileAppenderMaxSizeMB  = 10
	fileAppenderMaxBackups = 3
)

// FileAppender writes console formatted lines to a size rotated file.
type FileAppender struct {
	*ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender creates an appender writing to filename. The file and its directory are created
// on first write.
func NewFileAppender(filename string) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    fileAppenderMaxSizeMB,
		MaxBackups: fileAppenderMaxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(file), file: file}
}

// Close closes the current log file.
func (appender *FileAppender) Close() error {
	return appender.file.Close()
}
