package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"remote-config/client"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/handler"
	"strings"
	"time"
)

// CommandProcessor は、コマンド処理を担当する構造体
type CommandProcessor struct {
	handler     client.RemoteConfigClient
	out         io.Writer
	historyFile string
	cmdChan     chan *Command
	done        chan struct{}
	ctx         context.Context    // コンテキスト
	cancel      context.CancelFunc // コンテキストのキャンセル関数
}

// NewCommandProcessor は、CommandProcessor の新しいインスタンスを作成する
func NewCommandProcessor(ctx context.Context, c client.RemoteConfigClient) *CommandProcessor {
	return newCommandProcessor(ctx, c, os.Stdout, getHistoryFilePath())
}

func newCommandProcessor(ctx context.Context, c client.RemoteConfigClient, out io.Writer, historyFile string) *CommandProcessor {
	// コマンドプロセッサ用のコンテキストを作成
	processorCtx, cancel := context.WithCancel(ctx)

	return &CommandProcessor{
		handler:     c,
		out:         out,
		historyFile: historyFile,
		cmdChan:     make(chan *Command),
		done:        make(chan struct{}),
		ctx:         processorCtx,
		cancel:      cancel,
	}
}

// Start は、コマンド処理を開始する
func (p *CommandProcessor) Start() {
	go p.processCommands()
}

// Stop は、コマンド処理を停止する
func (p *CommandProcessor) Stop() {
	// コンテキストをキャンセル
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		// 既に終了している場合は何もしない
		return
	default:
		close(p.cmdChan)
		<-p.done // コマンド処理goroutineの終了を待つ
	}
}

// SendCommand は、コマンドを送信し、結果のエラーを返す
func (p *CommandProcessor) SendCommand(cmd *Command) error {
	select {
	case p.cmdChan <- cmd:
	case <-p.done:
		return context.Canceled
	}
	<-cmd.Done       // コマンドの実行が完了するまで待つ
	return cmd.Error // コマンド実行中のエラーを返す
}

// processCommands は、コマンドを処理するgoroutine
func (p *CommandProcessor) processCommands() {
	defer close(p.done)

	for cmd := range p.cmdChan {
		// コンテキストがキャンセルされていないか確認
		select {
		case <-p.ctx.Done():
			cmd.Error = p.ctx.Err()
			close(cmd.Done)
			return
		default:
		}

		switch cmd.Type {
		case CmdQuit:
			close(cmd.Done) // 終了コマンドの場合は即座に完了を通知して終了
			return
		case CmdDiscover:
			cmd.Error = p.processDiscoverCommand()
		case CmdDevices:
			cmd.Error = p.processDevicesCommand(cmd)
		case CmdFiles:
			cmd.Error = p.processFilesCommand(cmd)
		case CmdHelp:
			PrintUsage(p.out, cmd.CommandName)
		case CmdGet:
			cmd.Error = p.processGetCommand(cmd)
		case CmdSave:
			cmd.Error = p.processSaveCommand(cmd)
		case CmdReboot:
			cmd.Error = p.withNode(cmd, func(node *remoteconfig.Node) error {
				if err := p.handler.Reboot(p.ctx, node); err != nil {
					return err
				}
				fmt.Fprintf(p.out, "%s に再起動を要求しました\n", node.IP)
				return nil
			})
		case CmdFactory:
			cmd.Error = p.withNode(cmd, func(node *remoteconfig.Node) error {
				if err := p.handler.FactoryReset(p.ctx, node); err != nil {
					return err
				}
				fmt.Fprintf(p.out, "%s を工場出荷状態に戻しました\n", node.IP)
				return nil
			})
		case CmdDisplay:
			cmd.Error = p.processSwitchCommand(cmd, "display", p.handler.SetDisplay, p.handler.GetDisplayState)
		case CmdTftp:
			cmd.Error = p.processSwitchCommand(cmd, "tftp", p.handler.SetTftp, p.handler.GetTftpState)
		case CmdUptime:
			cmd.Error = p.withNode(cmd, func(node *remoteconfig.Node) error {
				uptime, err := p.handler.GetUptime(p.ctx, node)
				if err != nil {
					return err
				}
				fmt.Fprintf(p.out, "%s: uptime %s\n", node.IP, uptimeString(uptime))
				return nil
			})
		case CmdVersion:
			cmd.Error = p.withNode(cmd, func(node *remoteconfig.Node) error {
				version, err := p.handler.GetVersion(p.ctx, node)
				if err != nil {
					return err
				}
				fmt.Fprintf(p.out, "%s: %s\n", node.IP, version)
				return nil
			})
		case CmdDebug:
			cmd.Error = p.processDebugCommand(cmd)
		case CmdHistory:
			for _, line := range lastN(loadHistory(p.historyFile), cmd.Count) {
				fmt.Fprintln(p.out, line)
			}
		default:
			cmd.Error = fmt.Errorf("未対応のコマンドです")
		}

		// コマンド実行完了を通知（quit以外の全てのコマンド）
		close(cmd.Done)
	}
}

// withNode はノード指定子を解決して f を呼ぶ
func (p *CommandProcessor) withNode(cmd *Command, f func(node *remoteconfig.Node) error) error {
	node, err := p.handler.FindNode(cmd.NodeSpec)
	if err != nil {
		return err
	}
	return f(node)
}

func (p *CommandProcessor) printNode(node *remoteconfig.Node) {
	fmt.Fprintf(p.out, "%-15s %-12s %-8s %s\n", node.IP, node.Capability, node.Mode, node.DisplayName)
}

func (p *CommandProcessor) processDiscoverCommand() error {
	nodes, err := p.handler.Discover(p.ctx)
	if errors.Is(err, handler.ErrNoDevicesFound) {
		fmt.Fprintln(p.out, "ノードが見つかりませんでした")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "%d 台のノードが見つかりました\n", len(nodes))
	for _, node := range nodes {
		p.printNode(node)
	}
	return nil
}

func (p *CommandProcessor) processDevicesCommand(cmd *Command) error {
	if cmd.NodeSpec != "" {
		return p.withNode(cmd, func(node *remoteconfig.Node) error {
			p.printNode(node)
			fmt.Fprintf(p.out, "  %s\n", node.IdentityLine)
			return nil
		})
	}

	nodes := p.handler.ListNodes()
	if len(nodes) == 0 {
		fmt.Fprintln(p.out, "ノードがありません。discover を実行してください")
		return nil
	}
	for _, node := range nodes {
		p.printNode(node)
	}
	return nil
}

func (p *CommandProcessor) processFilesCommand(cmd *Command) error {
	return p.withNode(cmd, func(node *remoteconfig.Node) error {
		for _, f := range node.Files() {
			marker := " "
			if f == node.ModeFile {
				marker = "*"
			}
			fmt.Fprintf(p.out, "%s %s\n", marker, f)
		}
		return nil
	})
}

func (p *CommandProcessor) processGetCommand(cmd *Command) error {
	return p.withNode(cmd, func(node *remoteconfig.Node) error {
		text, found, err := p.handler.GetFile(p.ctx, node, cmd.File)
		if !found {
			// ヘッダのみのテキストを表示してからエラーを返す
			fmt.Fprintln(p.out, text)
			if err == nil {
				err = fmt.Errorf("%s: %s を取得できませんでした", node.IP, cmd.File)
			}
			return err
		}
		if err != nil {
			return err
		}

		if cmd.LocalPath == "" {
			fmt.Fprintln(p.out, text)
			return nil
		}
		if err := os.WriteFile(cmd.LocalPath, []byte(text+"\n"), 0644); err != nil {
			return fmt.Errorf("ファイルの書き込みに失敗しました: %w", err)
		}
		fmt.Fprintf(p.out, "%s を %s に保存しました\n", cmd.File, cmd.LocalPath)
		return nil
	})
}

func (p *CommandProcessor) processSaveCommand(cmd *Command) error {
	data, err := os.ReadFile(cmd.LocalPath)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗しました: %w", err)
	}
	return p.withNode(cmd, func(node *remoteconfig.Node) error {
		if err := p.handler.SaveFile(p.ctx, node, string(data)); err != nil {
			return err
		}
		header, _, _ := strings.Cut(string(data), "\n")
		fmt.Fprintf(p.out, "%s に %s を送信しました\n", node.IP, strings.TrimPrefix(strings.TrimSpace(header), "#"))
		return nil
	})
}

func onOffString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (p *CommandProcessor) processSwitchCommand(
	cmd *Command,
	name string,
	set func(ctx context.Context, node *remoteconfig.Node, on bool) error,
	get func(ctx context.Context, node *remoteconfig.Node) (bool, error),
) error {
	return p.withNode(cmd, func(node *remoteconfig.Node) error {
		if cmd.Switch != nil {
			if err := set(p.ctx, node, *cmd.Switch); err != nil {
				return err
			}
			fmt.Fprintf(p.out, "%s: %s を %s にしました\n", node.IP, name, onOffString(*cmd.Switch))
			return nil
		}
		on, err := get(p.ctx, node)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "%s: %s %s\n", node.IP, name, onOffString(on))
		return nil
	})
}

func (p *CommandProcessor) processDebugCommand(cmd *Command) error {
	// デバッグモードの表示または切り替え
	if cmd.DebugMode != nil {
		debugMode := *cmd.DebugMode == "on"
		p.handler.SetDebug(debugMode)
		if debugMode {
			fmt.Fprintln(p.out, "デバッグモードを有効にしました")
		} else {
			fmt.Fprintln(p.out, "デバッグモードを無効にしました")
		}
	} else {
		if p.handler.IsDebug() {
			fmt.Fprintln(p.out, "現在のデバッグモード: 有効")
		} else {
			fmt.Fprintln(p.out, "現在のデバッグモード: 無効")
		}
	}
	return nil
}

// uptimeString は秒単位に丸めた稼働時間
func uptimeString(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
