package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"remote-config/remoteconfig/log"
	"syscall"
)

// LogManager はログファイルの設定と SIGHUP によるローテーションを受け持つ
type LogManager struct {
	logger   *log.Logger
	signalCh chan os.Signal
	done     chan struct{}
}

func NewLogManager(logFilename string, debug bool) (*LogManager, error) {
	logger, err := log.Setup(logFilename, debug)
	if err != nil {
		return nil, err
	}

	lm := &LogManager{
		logger:   logger,
		signalCh: make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(lm.signalCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-lm.signalCh:
				fmt.Fprintln(os.Stderr, "SIGHUPを受信しました。ログファイルをローテーションします...")
				if err := lm.rotate(); err != nil {
					_, _ = fmt.Fprintf(os.Stderr, "ログローテーションエラー: %v\n", err)
				}
			case <-lm.done:
				return
			}
		}
	}()

	return lm, nil
}

func (lm *LogManager) rotate() error {
	slog.Info("ログファイルをローテーションします", "file", lm.logger.Filename())
	return lm.logger.Rotate()
}

func (lm *LogManager) Close() error {
	signal.Stop(lm.signalCh)
	close(lm.done)
	log.SetLogger(nil)
	return nil
}
