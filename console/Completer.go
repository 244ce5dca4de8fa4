package console

import (
	"remote-config/client"
	"remote-config/remoteconfig"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/chzyer/readline"
	"golang.org/x/exp/slices"
)

// --- 補完候補生成のためのヘルパー関数群 ---
// これらは CommandTable.go 内の GetCandidatesFunc や dynamicCompleter から呼び出される

// quoteIfNeeded は空白を含む表示名をクォートする
func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// getNodeCandidates はノード指定子の候補（IPアドレスと表示名）を返す
func getNodeCandidates(c client.RemoteConfigClient) []prompt.Suggest {
	nodes := c.ListNodes()
	ips := make([]prompt.Suggest, 0, len(nodes))
	names := make([]prompt.Suggest, 0, len(nodes))
	for _, node := range nodes {
		ips = append(ips, prompt.Suggest{Text: node.IP.String(), Description: node.String()})
		if node.DisplayName != "" {
			names = append(names, prompt.Suggest{Text: quoteIfNeeded(node.DisplayName), Description: node.IP.String()})
		}
	}
	return append(names, ips...)
}

// getFileCandidates はノードの設定ファイル名の候補を返す。
// ノードが見つからないときは既知の全ファイルを返す
func getFileCandidates(c client.RemoteConfigClient, nodeSpec string) []prompt.Suggest {
	var files []remoteconfig.TxtFile
	if node, err := c.FindNode(nodeSpec); err == nil {
		files = node.Files()
	} else {
		files = remoteconfig.AllTxtFiles()
	}
	suggests := make([]prompt.Suggest, 0, len(files))
	for _, f := range files {
		suggests = append(suggests, prompt.Suggest{Text: f.String()})
	}
	return suggests
}

// getCommandCandidates はコマンド名と別名の候補を返す
func getCommandCandidates() []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(CommandTable))
	for _, cmdDef := range CommandTable {
		suggests = append(suggests, prompt.Suggest{Text: cmdDef.Name, Description: cmdDef.Summary})
		for _, alias := range cmdDef.Aliases {
			suggests = append(suggests, prompt.Suggest{Text: alias, Description: cmdDef.Summary})
		}
	}
	return suggests
}

// dynamicCompleter は登録済みノードを見て候補を作る readline.AutoCompleter
type dynamicCompleter struct {
	client client.RemoteConfigClient
}

var _ readline.AutoCompleter = (*dynamicCompleter)(nil)

// Do は readline.AutoCompleter を実装する
func (dc *dynamicCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	text := string(line[:pos])
	words := splitWords(text)
	// 開きクォートも含めた入力中の単語
	typed := lastRawWord(text)

	var candidates []prompt.Suggest
	switch {
	case len(words) <= 1:
		candidates = getCommandCandidates()
	case words[0] == "help":
		if len(words) == 2 {
			candidates = getCommandCandidates()
		}
	default:
		buf := prompt.NewBuffer()
		buf.InsertText(text, false, true)
		for _, cmdDef := range CommandTable {
			if cmdDef.Name == words[0] || slices.Contains(cmdDef.Aliases, words[0]) {
				if cmdDef.GetCandidatesFunc != nil {
					candidates = cmdDef.GetCandidatesFunc(dc.client, *buf.Document())
				}
				break
			}
		}
	}

	// 入力中の単語でフィルタリングして、残りの部分を返す
	result := [][]rune{}
	for _, candidate := range prompt.FilterHasPrefix(candidates, typed, false) {
		result = append(result, []rune(candidate.Text[len(typed):]+" "))
	}
	return result, len([]rune(typed))
}

// lastRawWord はクォートの外にある最後の空白より後ろの部分を返す
func lastRawWord(line string) string {
	start := 0
	inQuote := false
	for i, r := range line {
		switch r {
		case '"', '\'':
			inQuote = !inQuote
		case ' ', '\t':
			if !inQuote {
				start = i + 1
			}
		}
	}
	return line[start:]
}

// splitWords は入力行を単語に分割する補助関数
// go-prompt の Document.TextBeforeCursor と組み合わせて使う
func splitWords(line string) []string {
	// 空の入力の場合は空のスライスを返す
	if line == "" {
		return []string{}
	}

	words := make([]string, 0) // non-nil スライスとして初期化
	var word string
	inQuote := false
	lastWasSpace := true // 最初はスペースとみなす

	for _, r := range line {
		switch r {
		case ' ', '\t':
			if !inQuote {
				if !lastWasSpace && word != "" { // 直前がスペースでなく、単語がある場合のみ追加
					words = append(words, word)
					word = ""
				}
				lastWasSpace = true
			} else { // inQuote
				word += string(r)
				lastWasSpace = false // クォート内ではスペースも単語の一部
			}
		case '"', '\'':
			inQuote = !inQuote
			lastWasSpace = false
		default:
			word += string(r)
			lastWasSpace = false
		}
	}

	// 最後の単語を追加
	if word != "" {
		words = append(words, word)
	}

	// 末尾が空白だった場合、空の単語を1つだけ追加
	if lastWasSpace {
		words = append(words, "")
	}

	return words
}
