package console

import (
	"fmt"
	"io"
	"remote-config/client"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"
)

// CommandDefinition はコマンドの定義を保持する構造体
type CommandDefinition struct {
	Name              string                                                                // コマンド名
	Aliases           []string                                                              // 別名（例: devicesとlistなど）
	Summary           string                                                                // 概要（短い説明）
	Syntax            string                                                                // 構文
	Description       []string                                                              // 詳細説明（各行が1つの要素）
	ParseFunc         func(p CommandParser, parts []string, debug bool) (*Command, error)   // パース関数
	GetCandidatesFunc func(c client.RemoteConfigClient, d prompt.Document) []prompt.Suggest // 補完候補生成関数
}

// argumentCandidates は単語位置ごとの補完関数から GetCandidatesFunc を作る。
// words[0] はコマンド名で、f には補完中の単語の位置と、それまでの単語が渡される。
func argumentCandidates(f func(c client.RemoteConfigClient, pos int, words []string) []prompt.Suggest) func(client.RemoteConfigClient, prompt.Document) []prompt.Suggest {
	return func(c client.RemoteConfigClient, d prompt.Document) []prompt.Suggest {
		words := splitWords(d.TextBeforeCursor())
		if len(words) < 2 {
			return nil
		}
		return f(c, len(words)-1, words)
	}
}

// nodeOnly はノード指定子を1つ取るコマンドの補完
var nodeOnly = argumentCandidates(func(c client.RemoteConfigClient, pos int, words []string) []prompt.Suggest {
	if pos == 1 {
		return getNodeCandidates(c)
	}
	return nil
})

// nodeAndSwitch は `<node> [on|off]` を取るコマンドの補完
var nodeAndSwitch = argumentCandidates(func(c client.RemoteConfigClient, pos int, words []string) []prompt.Suggest {
	switch pos {
	case 1:
		return getNodeCandidates(c)
	case 2:
		return onOffCandidates
	}
	return nil
})

var onOffCandidates = []prompt.Suggest{
	{Text: "on", Description: "有効にする"},
	{Text: "off", Description: "無効にする"},
}

// CommandTable はコマンドの定義を格納するテーブル
// コマンドの使用法に変化があったときは、README.md も更新すること
var CommandTable = []CommandDefinition{
	{
		Name:    "discover",
		Summary: "ノードの検出",
		Syntax:  "discover",
		Description: []string{
			"ブロードキャストで ?list# を送り、応答したノードを一覧に登録します。",
			"一覧は毎回置き換えられます。",
		},
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return newCommand(CmdDiscover), nil
		},
	},
	{
		Name:    "devices",
		Aliases: []string{"list"},
		Summary: "検出済みノードの一覧表示",
		Syntax:  "devices, list [node]",
		Description: []string{
			"node: IPアドレスまたは表示名でフィルター（例: 192.168.0.212）",
		},
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			if len(parts) > 2 {
				return nil, fmt.Errorf("devices コマンドの引数が多すぎます")
			}
			cmd := newCommand(CmdDevices)
			if len(parts) == 2 {
				cmd.NodeSpec = parts[1]
			}
			return cmd, nil
		},
	},
	{
		Name:    "files",
		Summary: "ノードの設定ファイル一覧",
		Syntax:  "files <node>",
		Description: []string{
			"node の capability とモードから決まる設定ファイルを表示順に列挙します。",
		},
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseNodeCommand(CmdFiles, parts)
		},
	},
	{
		Name:    "get",
		Summary: "設定ファイルの取得",
		Syntax:  "get <node> <file> [-o localFile]",
		Description: []string{
			"file: 設定ファイル名（例: network.txt）",
			"-o: 取得した内容を標準出力ではなくローカルファイルに保存",
			"ノードが応答しない場合や拒否した場合はヘッダのみを表示します。",
		},
		GetCandidatesFunc: argumentCandidates(func(c client.RemoteConfigClient, pos int, words []string) []prompt.Suggest {
			switch pos {
			case 1:
				return getNodeCandidates(c)
			case 2:
				return getFileCandidates(c, words[1])
			case 3:
				return []prompt.Suggest{{Text: "-o", Description: "ローカルファイルに保存"}}
			}
			return nil
		}),
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			if len(parts) != 3 && len(parts) != 5 {
				return nil, fmt.Errorf("get コマンドの構文: get <node> <file> [-o localFile]")
			}
			file, err := parseTxtFile(parts[2])
			if err != nil {
				return nil, err
			}
			cmd := newCommand(CmdGet)
			cmd.NodeSpec = parts[1]
			cmd.File = file
			if len(parts) == 5 {
				if parts[3] != "-o" {
					return nil, &InvalidArgument{Argument: parts[3]}
				}
				cmd.LocalPath = parts[4]
			}
			return cmd, nil
		},
	},
	{
		Name:    "save",
		Summary: "設定ファイルの書き込み",
		Syntax:  "save <node> <localFile>",
		Description: []string{
			"localFile: '#<ファイル名>' のヘッダ行で始まるテキストファイル",
			"ファイルの内容をそのままノードに送ります。応答はありません。",
		},
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			if len(parts) != 3 {
				return nil, fmt.Errorf("save コマンドの構文: save <node> <localFile>")
			}
			cmd := newCommand(CmdSave)
			cmd.NodeSpec = parts[1]
			cmd.LocalPath = parts[2]
			return cmd, nil
		},
	},
	{
		Name:    "reboot",
		Summary: "ノードの再起動",
		Syntax:  "reboot <node>",
		Description: []string{
			"ノードに再起動を要求します。応答は待ちません。",
		},
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseNodeCommand(CmdReboot, parts)
		},
	},
	{
		Name:    "factory",
		Summary: "工場出荷状態に戻す",
		Syntax:  "factory <node>",
		Description: []string{
			"ノードの全設定ファイルを初期値に戻します。取り消しはできません。",
		},
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseNodeCommand(CmdFactory, parts)
		},
	},
	{
		Name:    "display",
		Summary: "ディスプレイの点灯状態の取得・設定",
		Syntax:  "display <node> [on|off]",
		Description: []string{
			"on/off を省略すると現在の状態を表示します。",
		},
		GetCandidatesFunc: nodeAndSwitch,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseSwitchCommand(CmdDisplay, parts)
		},
	},
	{
		Name:    "tftp",
		Summary: "TFTP サーバーの状態の取得・設定",
		Syntax:  "tftp <node> [on|off]",
		Description: []string{
			"on/off を省略すると現在の状態を表示します。",
		},
		GetCandidatesFunc: nodeAndSwitch,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseSwitchCommand(CmdTftp, parts)
		},
	},
	{
		Name:              "uptime",
		Summary:           "稼働時間の表示",
		Syntax:            "uptime <node>",
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseNodeCommand(CmdUptime, parts)
		},
	},
	{
		Name:              "version",
		Summary:           "ファームウェアバージョンの表示",
		Syntax:            "version <node>",
		GetCandidatesFunc: nodeOnly,
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return parseNodeCommand(CmdVersion, parts)
		},
	},
	{
		Name:    "debug",
		Summary: "デバッグモードの表示・切替",
		Syntax:  "debug [on|off]",
		Description: []string{
			"引数なし: 現在のデバッグモードを表示",
			"on: デバッグモードを有効にする",
			"off: デバッグモードを無効にする",
		},
		GetCandidatesFunc: argumentCandidates(func(c client.RemoteConfigClient, pos int, words []string) []prompt.Suggest {
			if pos == 1 {
				return onOffCandidates
			}
			return nil
		}),
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			cmd := newCommand(CmdDebug)
			if len(parts) > 2 {
				return nil, fmt.Errorf("debug コマンドの引数が多すぎます")
			}
			if len(parts) == 2 {
				mode := parts[1]
				if mode != "on" && mode != "off" {
					return nil, fmt.Errorf("debug コマンドの引数は 'on' または 'off' である必要があります")
				}
				cmd.DebugMode = &mode
			}
			return cmd, nil
		},
	},
	{
		Name:    "history",
		Summary: "コマンド履歴の表示",
		Syntax:  "history [count]",
		Description: []string{
			"count: 表示する件数（新しいものから）。省略時は全件",
		},
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			if len(parts) > 2 {
				return nil, fmt.Errorf("history コマンドの引数が多すぎます")
			}
			cmd := newCommand(CmdHistory)
			if len(parts) == 2 {
				count, err := strconv.Atoi(parts[1])
				if err != nil || count <= 0 {
					return nil, &InvalidArgument{Argument: parts[1]}
				}
				cmd.Count = count
			}
			return cmd, nil
		},
	},
	{
		Name:    "help",
		Summary: "ヘルプを表示",
		Syntax:  "help [command]",
		Description: []string{
			"command: 詳細を表示するコマンド名",
		},
		// 補完候補は dynamicCompleter がコマンド名から作る
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			cmd := newCommand(CmdHelp)
			if len(parts) > 1 {
				cmd.CommandName = &parts[1]
			}
			return cmd, nil
		},
	},
	{
		Name:    "quit",
		Aliases: []string{"exit"},
		Summary: "終了",
		Syntax:  "quit",
		Description: []string{
			"プログラムを終了します。",
		},
		ParseFunc: func(p CommandParser, parts []string, debug bool) (*Command, error) {
			return newCommand(CmdQuit), nil
		},
	},
}

// PrintCommandSummary は、全コマンドの簡単なサマリーを表示する
func PrintCommandSummary(w io.Writer) {
	fmt.Fprintln(w, "コマンド:")

	// テーブルからサマリーを表示
	for _, cmd := range CommandTable {
		aliases := ""
		if len(cmd.Aliases) > 0 {
			aliases = fmt.Sprintf(", %s", strings.Join(cmd.Aliases, ", "))
		}
		fmt.Fprintf(w, "  %-14s: %s\n", cmd.Name+aliases, cmd.Summary)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "詳細は 'help <コマンド名>' で確認できます。例: 'help get'")
	fmt.Fprintln(w, "node には IP アドレスか表示名を指定します。空白を含む表示名はクォートで囲みます。")
}

// PrintCommandDetail は、特定のコマンドの詳細情報を表示する
func PrintCommandDetail(w io.Writer, commandName string) {
	// テーブルから指定されたコマンドを検索
	for _, cmd := range CommandTable {
		if cmd.Name == commandName || slices.Contains(cmd.Aliases, commandName) {
			fmt.Fprintf(w, "  %s: %s\n", cmd.Name, cmd.Summary)
			fmt.Fprintf(w, "  構文: %s\n", cmd.Syntax)

			if len(cmd.Description) > 0 {
				fmt.Fprintln(w, "  詳細:")
				for _, line := range cmd.Description {
					fmt.Fprintf(w, "    %s\n", line)
				}
			}
			return
		}
	}

	// コマンドが見つからなかった場合
	fmt.Fprintf(w, "不明なコマンド: %s\n", commandName)
	fmt.Fprintln(w, "利用可能なコマンドを確認するには 'help' を入力してください")
}

// コマンドの使用方法を表示する
func PrintUsage(w io.Writer, commandName *string) {
	if commandName == nil {
		// 引数無しの場合はタイトルとサマリーを表示
		fmt.Fprintln(w, "Remote Config コンソール")
		PrintCommandSummary(w)
	} else {
		// 特定のコマンドの詳細を表示（タイトルなし）
		PrintCommandDetail(w, *commandName)
	}
}
