package client

import (
	"context"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/handler"
	"time"
)

// RemoteConfigClientProxy は RemoteConfigClient の local proxy
type RemoteConfigClientProxy struct {
	handler *handler.RemoteConfigHandler
}

func NewRemoteConfigClientProxy(h *handler.RemoteConfigHandler) RemoteConfigClient {
	return &RemoteConfigClientProxy{
		handler: h,
	}
}

// Close はハンドラを閉じない。ハンドラの所有者は main
func (c *RemoteConfigClientProxy) Close() error {
	return nil
}

func (c *RemoteConfigClientProxy) IsDebug() bool {
	return c.handler.IsDebug()
}

func (c *RemoteConfigClientProxy) SetDebug(debug bool) {
	c.handler.SetDebug(debug)
}

func (c *RemoteConfigClientProxy) Discover(ctx context.Context) ([]*remoteconfig.Node, error) {
	return c.handler.Discover(ctx)
}

func (c *RemoteConfigClientProxy) ListNodes() []*remoteconfig.Node {
	return c.handler.Nodes()
}

func (c *RemoteConfigClientProxy) FindNode(spec string) (*remoteconfig.Node, error) {
	return c.handler.FindNode(spec)
}

func (c *RemoteConfigClientProxy) client(node *remoteconfig.Node) (*handler.Client, error) {
	return c.handler.Client(node)
}

func (c *RemoteConfigClientProxy) GetFile(ctx context.Context, node *remoteconfig.Node, f remoteconfig.TxtFile) (string, bool, error) {
	cl, err := c.client(node)
	if err != nil {
		return remoteconfig.SentinelBlob(f.String()), false, err
	}
	blob, ok, err := cl.GetFile(ctx, f)
	if err != nil || !ok {
		return remoteconfig.SentinelBlob(f.String()), false, err
	}
	return blob.String(), true, nil
}

func (c *RemoteConfigClientProxy) SaveFile(ctx context.Context, node *remoteconfig.Node, text string) error {
	cl, err := c.client(node)
	if err != nil {
		return err
	}
	return cl.SaveFile(ctx, text)
}

func (c *RemoteConfigClientProxy) Reboot(ctx context.Context, node *remoteconfig.Node) error {
	cl, err := c.client(node)
	if err != nil {
		return err
	}
	return cl.Reboot(ctx)
}

func (c *RemoteConfigClientProxy) FactoryReset(ctx context.Context, node *remoteconfig.Node) error {
	cl, err := c.client(node)
	if err != nil {
		return err
	}
	return cl.FactoryReset(ctx)
}

func (c *RemoteConfigClientProxy) SetDisplay(ctx context.Context, node *remoteconfig.Node, on bool) error {
	cl, err := c.client(node)
	if err != nil {
		return err
	}
	return cl.SetDisplay(ctx, on)
}

func (c *RemoteConfigClientProxy) SetTftp(ctx context.Context, node *remoteconfig.Node, on bool) error {
	cl, err := c.client(node)
	if err != nil {
		return err
	}
	return cl.SetTftp(ctx, on)
}

func (c *RemoteConfigClientProxy) GetDisplayState(ctx context.Context, node *remoteconfig.Node) (bool, error) {
	cl, err := c.client(node)
	if err != nil {
		return false, err
	}
	return cl.GetDisplayState(ctx)
}

func (c *RemoteConfigClientProxy) GetTftpState(ctx context.Context, node *remoteconfig.Node) (bool, error) {
	cl, err := c.client(node)
	if err != nil {
		return false, err
	}
	return cl.GetTftpState(ctx)
}

func (c *RemoteConfigClientProxy) GetUptime(ctx context.Context, node *remoteconfig.Node) (time.Duration, error) {
	cl, err := c.client(node)
	if err != nil {
		return 0, err
	}
	return cl.GetUptime(ctx)
}

func (c *RemoteConfigClientProxy) GetVersion(ctx context.Context, node *remoteconfig.Node) (string, error) {
	cl, err := c.client(node)
	if err != nil {
		return "", err
	}
	return cl.GetVersion(ctx)
}
