package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"remote-config/remoteconfig"
	"strings"
	"time"
)

// Client は1台のノードに対する要求/応答を行う
type Client struct {
	session *Session
	node    *remoteconfig.Node
}

func NewClient(session *Session, node *remoteconfig.Node) *Client {
	return &Client{session: session, node: node}
}

func (c *Client) Node() *remoteconfig.Node {
	return c.node
}

// Query は msg を送信して応答を1つ待つ。
// 拒否応答は ErrDeviceRefused、応答がない場合は ErrTimeout を返す。
func (c *Client) Query(ctx context.Context, msg remoteconfig.Message) (string, error) {
	return c.exchange(ctx, msg.Encode(), true)
}

// Send は応答を待たずに msg を送信する
func (c *Client) Send(ctx context.Context, msg remoteconfig.Message) error {
	_, err := c.exchange(ctx, msg.Encode(), false)
	return err
}

func (c *Client) exchange(ctx context.Context, payload []byte, wantReply bool) (string, error) {
	var reply string
	err := c.session.Do(ctx, func(x *Exchange) error {
		if err := x.Send(c.node.IP, payload); err != nil {
			return err
		}
		if !wantReply {
			return nil
		}
		text, err := x.ReceiveFrom(c.node.IP, c.session.ReceiveTimeout)
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if err != nil {
		return "", err
	}
	if remoteconfig.IsErrorReply(reply) {
		return "", ErrDeviceRefused{IP: c.node.IP, Request: string(payload), Reply: reply}
	}
	return reply, nil
}

// GetFile は設定ファイルを取得する。キャッシュにあればノードには問い合わせない。
// 応答が要求したファイルのものでない場合や送信に失敗した場合は ok=false を返す。
func (c *Client) GetFile(ctx context.Context, f remoteconfig.TxtFile) (remoteconfig.FileBlob, bool, error) {
	if !f.IsValid() {
		return remoteconfig.FileBlob{}, false, ErrUnknownTxtFile
	}
	return c.node.Cache().Get(f, func() (remoteconfig.FileBlob, bool, error) {
		reply, err := c.Query(ctx, remoteconfig.Query(remoteconfig.CmdGet, f.String()))
		if errors.Is(err, ErrSendFailed) {
			return remoteconfig.FileBlob{}, false, nil
		}
		if err != nil {
			return remoteconfig.FileBlob{}, false, err
		}
		blob, ok := remoteconfig.MatchFileBlob(reply, f.String())
		if !ok {
			slog.Debug("要求したファイルと異なる応答", "node", c.node.IP, "file", f, "reply", reply)
			return remoteconfig.FileBlob{}, false, nil
		}
		return blob, true, nil
	})
}

// GetFileText はファイル名で設定ファイルを取得し、ヘッダ付きのテキストで返す。
// 取得できなかった場合はヘッダのみのテキスト `#<name>\n` を返す。
func (c *Client) GetFileText(ctx context.Context, name string) string {
	f, ok := remoteconfig.LookupTxtFile(name)
	if !ok {
		return remoteconfig.SentinelBlob(name)
	}
	blob, ok, err := c.GetFile(ctx, f)
	if err != nil {
		slog.Debug("設定ファイルを取得できません", "node", c.node.IP, "file", name, "err", err)
	}
	if err != nil || !ok {
		return remoteconfig.SentinelBlob(name)
	}
	return blob.String()
}

// SaveFile は `#<name>.txt\n...` 形式のテキストをノードに保存する。
// 形式が正しくない場合は何も送信せずに ErrMalformedSave を返す。
func (c *Client) SaveFile(ctx context.Context, text string) error {
	blob, err := remoteconfig.ParseFileBlob(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSave, err)
	}
	f, ok := remoteconfig.LookupTxtFile(blob.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTxtFile, blob.Name)
	}
	if !c.node.HasFile(f) {
		slog.Debug("ノードの一覧にないファイルを保存します", "node", c.node.IP, "file", f)
	}

	if _, err := c.exchange(ctx, []byte(strings.TrimSpace(text)), false); err != nil {
		return err
	}
	c.node.Cache().Invalidate(f)
	return nil
}

// Reboot はノードを再起動させる
func (c *Client) Reboot(ctx context.Context) error {
	return c.Send(ctx, remoteconfig.Query(remoteconfig.CmdReboot, "#"))
}

// FactoryReset はノードの設定を工場出荷時に戻す
func (c *Client) FactoryReset(ctx context.Context) error {
	return c.Send(ctx, remoteconfig.Query(remoteconfig.CmdFactory, "#"))
}

func (c *Client) SetDisplay(ctx context.Context, on bool) error {
	return c.Send(ctx, remoteconfig.Action(remoteconfig.CmdDisplay, remoteconfig.OnOffArg(on)))
}

func (c *Client) SetTftp(ctx context.Context, on bool) error {
	return c.Send(ctx, remoteconfig.Action(remoteconfig.CmdTftp, remoteconfig.OnOffArg(on)))
}

func (c *Client) GetDisplayState(ctx context.Context) (bool, error) {
	return c.queryOnOff(ctx, remoteconfig.CmdDisplay)
}

func (c *Client) GetTftpState(ctx context.Context) (bool, error) {
	return c.queryOnOff(ctx, remoteconfig.CmdTftp)
}

func (c *Client) queryOnOff(ctx context.Context, cmd string) (bool, error) {
	reply, err := c.Query(ctx, remoteconfig.Query(cmd, ""))
	if err != nil {
		return false, err
	}
	return remoteconfig.ParseOnOffReply(reply, cmd)
}

func (c *Client) GetUptime(ctx context.Context) (time.Duration, error) {
	reply, err := c.Query(ctx, remoteconfig.Query(remoteconfig.CmdUptime, ""))
	if err != nil {
		return 0, err
	}
	return remoteconfig.ParseUptimeReply(reply)
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	reply, err := c.Query(ctx, remoteconfig.Query(remoteconfig.CmdVersion, ""))
	if err != nil {
		return "", err
	}
	return remoteconfig.ParseVersionReply(reply)
}
