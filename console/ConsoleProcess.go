package console

import (
	"context"
	"fmt"
	"remote-config/client"

	"github.com/chzyer/readline"
)

// ConsoleProcess は対話コンソールを実行し、quit か EOF で戻る
func ConsoleProcess(ctx context.Context, c client.RemoteConfigClient) {
	// コマンドプロセッサの作成と開始
	processor := NewCommandProcessor(ctx, c)
	processor.Start()
	defer processor.Stop()

	// コマンドの使用方法を表示
	fmt.Println("help for usage, quit to exit")

	// 動的補完機能を使用
	completer := &dynamicCompleter{client: c}

	// readline の設定
	rlConfig := &readline.Config{
		Prompt:          "> ",
		HistoryFile:     processor.historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	}

	rl, err := readline.NewEx(rlConfig)
	if err != nil {
		fmt.Printf("readline の初期化エラー: %v\n", err)
		return
	}
	defer func(rl *readline.Instance) {
		_ = rl.Close()
	}(rl)

	// シグナルなどでコンテキストが終わったら入力待ちを解除する
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	p := NewCommandParser()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF, readline.ErrInterrupt
			break
		}

		cmd, err := p.ParseCommand(line, c.IsDebug())
		if err != nil {
			fmt.Printf("エラー: %v\n", err)
			continue
		}
		if cmd == nil {
			continue
		}

		if cmd.Type == CmdQuit {
			// quitコマンドの場合は、コマンドチャネル経由で送信せず、直接終了する
			close(cmd.Done)
			break
		}

		// コマンドを送信し、エラーをチェック
		if err := processor.SendCommand(cmd); err != nil {
			fmt.Printf("エラー: %v\n", err)
		}
	}
}
