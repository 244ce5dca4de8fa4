package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger はログファイルへの書き込みを管理する。
// slog のデフォルトハンドラの出力先として使われ、SIGHUP で Rotate される。
type Logger struct {
	logMutex sync.Mutex
	logFile  *os.File
	filename string
}

var (
	logger *Logger
)

func GetLogger() *Logger {
	return logger
}

// SetLogger は l を現在のロガーにする。以前のロガーは閉じられる
func SetLogger(l *Logger) {
	if logger != nil {
		logger.Close()
	}
	logger = l
}

// NewLogger は filename を追記モードで開く
func NewLogger(filename string) (*Logger, error) {
	logFile, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}
	return &Logger{logFile: logFile, filename: filename}, nil
}

func openLogFile(filename string) (*os.File, error) {
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ログファイルを開けませんでした: %w", err)
	}
	return logFile, nil
}

// Write はログファイルに書き込む。Rotate 中も安全に呼べる
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()
	if l.logFile == nil {
		return len(p), nil
	}
	return l.logFile.Write(p)
}

func (l *Logger) Close() {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
		l.logFile = nil
	}
}

// Rotate はログファイルを閉じて開き直す
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	_ = l.logFile.Close()

	logFile, err := openLogFile(l.filename)
	if err != nil {
		l.logFile = nil
		return fmt.Errorf("ログファイルを再オープンできませんでした: %w", err)
	}
	l.logFile = logFile
	return nil
}

// Filename は書き込み先のファイル名
func (l *Logger) Filename() string {
	return l.filename
}

// NewHandler は w に書き込む slog.Handler を作る。debug なら Debug レベルまで出力する
func NewHandler(w io.Writer, debug bool) slog.Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup は filename をログファイルとして開き、slog のデフォルトの出力先にする
func Setup(filename string, debug bool) (*Logger, error) {
	l, err := NewLogger(filename)
	if err != nil {
		return nil, err
	}
	SetLogger(l)
	slog.SetDefault(slog.New(NewHandler(l, debug)))
	return l, nil
}
