package remoteconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MessageKind はメッセージの先頭1文字で表される種別
type MessageKind byte

const (
	KindQuery  MessageKind = '?' // 応答を期待する問い合わせ
	KindAction MessageKind = '!' // 応答を期待しない操作
	KindFile   MessageKind = '#' // 設定ファイル本体
)

// コマンド名
const (
	CmdList    = "list"
	CmdGet     = "get"
	CmdReboot  = "reboot"
	CmdFactory = "factory"
	CmdDisplay = "display"
	CmdTftp    = "tftp"
	CmdUptime  = "uptime"
	CmdVersion = "version"
)

// ErrorMarker はノードが要求を拒否したときに応答の末尾に付く文字列
const ErrorMarker = "#ERROR#"

var (
	ErrMalformedFileBlob = errors.New("malformed file blob")
	ErrUnexpectedReply   = errors.New("unexpected reply")
)

// Message は `?cmd#arg` もしくは `!cmd#arg` 形式のコマンド
type Message struct {
	Kind    MessageKind
	Command string
	Arg     string
}

// Query は `?cmd#arg` を作成する
func Query(cmd, arg string) Message {
	return Message{Kind: KindQuery, Command: cmd, Arg: arg}
}

// Action は `!cmd#arg` を作成する
func Action(cmd, arg string) Message {
	return Message{Kind: KindAction, Command: cmd, Arg: arg}
}

func (m Message) String() string {
	return fmt.Sprintf("%c%s#%s", m.Kind, m.Command, m.Arg)
}

// Encode は送信用のバイト列を返す
func (m Message) Encode() []byte {
	return []byte(m.String())
}

// ParseMessage は `?cmd#arg` / `!cmd#arg` を解析する
func ParseMessage(data []byte) (Message, error) {
	s := string(data)
	if len(s) < 2 {
		return Message{}, fmt.Errorf("message too short: %q", s)
	}
	kind := MessageKind(s[0])
	if kind != KindQuery && kind != KindAction {
		return Message{}, fmt.Errorf("unknown message kind %q", s[0])
	}
	cmd, arg, found := strings.Cut(s[1:], "#")
	if !found {
		return Message{}, fmt.Errorf("missing '#' in %q", s)
	}
	return Message{Kind: kind, Command: cmd, Arg: arg}, nil
}

// OnOffArg は on/off を引数文字列に変換する
func OnOffArg(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// DecodeReply は受信バッファから応答テキストを取り出す。
// 前後の NUL と空白を取り除き、先頭行が表示可能な文字列の場合のみ受け付ける。
func DecodeReply(buf []byte) (string, bool) {
	text := strings.TrimFunc(string(buf), func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	})
	if text == "" {
		return "", false
	}
	first, _, _ := strings.Cut(text, "\n")
	if !utf8.ValidString(first) {
		return "", false
	}
	for _, r := range first {
		if r != '\t' && !unicode.IsPrint(r) {
			return "", false
		}
	}
	return text, true
}

// IsErrorReply はノードからの拒否応答 (`?get#ERROR#` など) かどうかを返す
func IsErrorReply(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), ErrorMarker)
}

// FileBlob は `#<file>\n<key=value...>` 形式の設定ファイル
type FileBlob struct {
	Name string // ファイル名 (例: network.txt)
	Body string // ヘッダ行を除いた本文
}

// ParseFileBlob はテキストからファイル名と本文を取り出す。
// ファイル名は先頭の '#' から最初の ".txt" まで。
func ParseFileBlob(text string) (FileBlob, error) {
	if !strings.HasPrefix(text, string(KindFile)) {
		return FileBlob{}, fmt.Errorf("%w: does not start with '#'", ErrMalformedFileBlob)
	}
	idx := strings.Index(text, ".txt")
	if idx < 0 {
		return FileBlob{}, fmt.Errorf("%w: does not start with #????.txt", ErrMalformedFileBlob)
	}
	name := text[1 : idx+len(".txt")]
	if name == ".txt" || strings.ContainsAny(name, "\n#") {
		return FileBlob{}, fmt.Errorf("%w: invalid file name %q", ErrMalformedFileBlob, name)
	}
	body := text[idx+len(".txt"):]
	body = strings.TrimPrefix(strings.TrimLeft(body, " \t\r"), "\n")
	return FileBlob{Name: name, Body: body}, nil
}

// MatchFileBlob は受信テキストが要求したファイルのものであれば FileBlob を返す。
// 一致しない場合はデータなしとして扱う。
func MatchFileBlob(text, name string) (FileBlob, bool) {
	if !strings.HasPrefix(text, string(KindFile)+name) {
		return FileBlob{}, false
	}
	blob, err := ParseFileBlob(text)
	if err != nil || blob.Name != name {
		return FileBlob{}, false
	}
	return blob, true
}

// SentinelBlob はタイムアウト時に返すヘッダのみのテキスト
func SentinelBlob(name string) string {
	return string(KindFile) + name + "\n"
}

// String はヘッダ付きのテキストを返す
func (b FileBlob) String() string {
	if b.Body == "" {
		return SentinelBlob(b.Name)
	}
	return SentinelBlob(b.Name) + b.Body
}

// Encode は保存用のペイロードを返す
func (b FileBlob) Encode() []byte {
	return []byte(strings.TrimSpace(b.String()))
}

// IsEmpty は本文に中身がないかどうか
func (b FileBlob) IsEmpty() bool {
	return strings.TrimSpace(b.Body) == ""
}

// Lines は本文の空でない行を返す
func (b FileBlob) Lines() []string {
	var lines []string
	for _, line := range strings.Split(b.Body, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// replyValue は `name:value` 形式の応答から値を取り出す
func replyValue(reply, name string) (string, error) {
	reply = strings.TrimSpace(reply)
	value, found := strings.CutPrefix(reply, name+":")
	if !found {
		return "", fmt.Errorf("%w: %q (want %s:...)", ErrUnexpectedReply, reply, name)
	}
	return strings.TrimSpace(value), nil
}

// ParseOnOffReply は `display:On` / `tftp:Off` 形式の応答を解析する
func ParseOnOffReply(reply, name string) (bool, error) {
	value, err := replyValue(reply, name)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(value) {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
}

// ParseUptimeReply は `uptime:1234s` 形式の応答を解析する
func ParseUptimeReply(reply string) (time.Duration, error) {
	value, err := replyValue(reply, CmdUptime)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseUint(strings.TrimSuffix(value, "s"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
	return time.Duration(seconds) * time.Second, nil
}

// ParseVersionReply は `version:...` 形式の応答を解析する
func ParseVersionReply(reply string) (string, error) {
	return replyValue(reply, CmdVersion)
}
