package console

import (
	"fmt"
	"remote-config/remoteconfig"
	"strings"

	"golang.org/x/exp/slices"
)

// コマンドの種類を表す型
type CommandType int

const (
	CmdUnknown CommandType = iota
	CmdQuit
	CmdDiscover
	CmdDevices
	CmdFiles
	CmdHelp
	CmdGet
	CmdSave
	CmdReboot
	CmdFactory
	CmdDisplay
	CmdTftp
	CmdUptime
	CmdVersion
	CmdDebug
	CmdHistory
)

// コマンドを表す構造体
type Command struct {
	Type        CommandType
	NodeSpec    string               // ノード指定子（IPアドレスまたは表示名）
	File        remoteconfig.TxtFile // get コマンドの対象ファイル
	LocalPath   string               // save コマンドで読み込むローカルファイル
	Switch      *bool                // display/tftp の on/off。nil なら状態の問い合わせ
	DebugMode   *string              // debugコマンドのモード ("on" または "off")
	CommandName *string              // help の対象コマンド
	Count       int                  // history の表示件数。0 なら全件
	Done        chan struct{}        // コマンド実行完了を通知するチャネル
	Error       error                // コマンド実行中に発生したエラー
}

type CommandParser struct{}

func NewCommandParser() *CommandParser {
	return &CommandParser{}
}

// 基本的なコマンドオブジェクトを作成するヘルパー関数
func newCommand(cmdType CommandType) *Command {
	return &Command{
		Done: make(chan struct{}),
		Type: cmdType,
	}
}

type InvalidArgument struct {
	Argument string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("無効な引数: %s", e.Argument)
}

// parseOnOff は on/off を bool にする
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	}
	return false, &InvalidArgument{Argument: s}
}

// parseTxtFile は設定ファイル名をパースする。拡張子は省略できる
func parseTxtFile(name string) (remoteconfig.TxtFile, error) {
	if !strings.HasSuffix(name, ".txt") {
		name += ".txt"
	}
	f, ok := remoteconfig.LookupTxtFile(name)
	if !ok {
		return remoteconfig.TxtNone, fmt.Errorf("不明な設定ファイル: %s", name)
	}
	return f, nil
}

// parseNodeCommand はノード指定子を1つだけ取るコマンドをパースする
func parseNodeCommand(cmdType CommandType, parts []string) (*Command, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("%s コマンドにはノード指定子が1つ必要です", parts[0])
	}
	cmd := newCommand(cmdType)
	cmd.NodeSpec = parts[1]
	return cmd, nil
}

// parseSwitchCommand は `<cmd> <node> [on|off]` をパースする
func parseSwitchCommand(cmdType CommandType, parts []string) (*Command, error) {
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%s コマンドの構文: %s <node> [on|off]", parts[0], parts[0])
	}
	cmd := newCommand(cmdType)
	cmd.NodeSpec = parts[1]
	if len(parts) == 3 {
		on, err := parseOnOff(parts[2])
		if err != nil {
			return nil, err
		}
		cmd.Switch = &on
	}
	return cmd, nil
}

// コマンドをパースする。表示名に空白を含むノードはクォートで指定する
func (p CommandParser) ParseCommand(input string, debug bool) (*Command, error) {
	parts := splitWords(strings.TrimSpace(input))
	// 末尾の空白で付く空の単語は除く
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return nil, nil
	}

	commandName := parts[0]

	// テーブルから一致するコマンドを探す
	for _, cmdDef := range CommandTable {
		if cmdDef.Name == commandName || slices.Contains(cmdDef.Aliases, commandName) {
			if cmdDef.ParseFunc != nil {
				return cmdDef.ParseFunc(p, parts, debug)
			}
			// ParseFuncが定義されていない場合はデフォルトのコマンドを返す
			return newCommand(CmdUnknown), nil
		}
	}

	return nil, fmt.Errorf("unknown command: %s", commandName)
}
