package console

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const historyFileName = ".remote_config_history"

// getHistoryFilePath は履歴ファイルのパスを取得する
func getHistoryFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// ホームディレクトリが取得できない場合はカレントディレクトリに作成
		slog.Warn("ホームディレクトリが取得できませんでした。履歴ファイルはカレントディレクトリに作成されます", "err", err)
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}

// loadHistory は readline が書いた履歴ファイルを読み込む。
// 空行と重複は除き、重複は新しい方だけを残す
func loadHistory(filePath string) []string {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{} // ファイルが存在しない場合は空の履歴
		}
		slog.Warn("履歴ファイルの読み込みに失敗しました", "file", filePath, "err", err)
		return []string{}
	}
	defer file.Close()

	var history []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		history = append(history, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("履歴ファイルのスキャン中にエラーが発生しました", "file", filePath, "err", err)
	}

	cleanedHistory := make([]string, 0, len(history))
	seen := make(map[string]struct{})
	for i := len(history) - 1; i >= 0; i-- { // 新しいものから見ていく
		trimmedLine := strings.TrimSpace(history[i])
		if trimmedLine == "" {
			continue
		}
		if _, ok := seen[trimmedLine]; !ok {
			cleanedHistory = append(cleanedHistory, trimmedLine)
			seen[trimmedLine] = struct{}{}
		}
	}
	// 順序を元に戻す
	for i, j := 0, len(cleanedHistory)-1; i < j; i, j = i+1, j-1 {
		cleanedHistory[i], cleanedHistory[j] = cleanedHistory[j], cleanedHistory[i]
	}
	return cleanedHistory
}

// lastN は末尾 n 件を返す。n <= 0 なら全件
func lastN(history []string, n int) []string {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
