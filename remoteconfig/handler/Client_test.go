package handler

import (
	"context"
	"errors"
	"net"
	"remote-config/remoteconfig"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, device *fakeNode) (*Client, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport(device)
	s := newTestSession(t, transport)
	node, err := remoteconfig.ParseNode(device.listReply)
	require.NoError(t, err)
	return NewClient(s, node), transport
}

func TestClient_GetFile(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,sACN E1.31,DMX\n0,MyE131Node")
	device.files["params.txt"] = "break_time=176\nmab_time=12\n"
	client, transport := newTestClient(t, device)
	ctx := context.Background()

	blob, ok, err := client.GetFile(ctx, remoteconfig.TxtParams)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "params.txt", blob.Name)
	assert.Equal(t, []string{"break_time=176", "mab_time=12"}, blob.Lines())

	_, _, err = client.GetFile(ctx, remoteconfig.TxtParams)
	require.NoError(t, err)
	assert.Equal(t, []string{"?get#params.txt"}, transport.sentTo(device.ip), "2回目はキャッシュから返る")
}

func TestClient_GetFile_Refused(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	client, _ := newTestClient(t, device)

	_, ok, err := client.GetFile(context.Background(), remoteconfig.TxtArtNet)
	assert.False(t, ok)
	var refused ErrDeviceRefused
	require.True(t, errors.As(err, &refused), "got %v", err)
	assert.Equal(t, "?get#artnet.txt", refused.Request)
	assert.True(t, refused.IP.Equal(device.ip))

	_, cached := client.Node().Cache().Lookup(remoteconfig.TxtArtNet)
	assert.False(t, cached)
}

func TestClient_GetFile_Timeout(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.silent = true
	client, _ := newTestClient(t, device)

	_, ok, err := client.GetFile(context.Background(), remoteconfig.TxtNetwork)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)

	text := client.GetFileText(context.Background(), "network.txt")
	assert.Equal(t, "#network.txt\n", text, "タイムアウト時はヘッダのみのテキスト")

	_, cached := client.Node().Cache().Lookup(remoteconfig.TxtNetwork)
	assert.False(t, cached, "タイムアウトはキャッシュされない")
}

func TestClient_GetFile_MismatchedReplyIsAbsent(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.silent = true
	client, transport := newTestClient(t, device)

	transport.mu.Lock()
	transport.inject(device.ip, "#devices.txt\nled_type=WS2812B\n")
	transport.mu.Unlock()

	blob, ok, err := client.GetFile(context.Background(), remoteconfig.TxtParams)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, remoteconfig.FileBlob{}, blob)
}

func TestClient_IgnoresRepliesFromOtherNodes(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.files["network.txt"] = "use_dhcp=1\n"
	client, transport := newTestClient(t, device)

	transport.mu.Lock()
	transport.inject(net.ParseIP("10.0.0.6"), "#network.txt\nuse_dhcp=0\n")
	transport.mu.Unlock()

	blob, ok, err := client.GetFile(context.Background(), remoteconfig.TxtNetwork)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "use_dhcp=1\n", blob.Body)
}

func TestClient_GetFileText(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.files["rconfig.txt"] = "reboot=0\n"
	client, _ := newTestClient(t, device)

	assert.Equal(t, "#rconfig.txt\nreboot=0", client.GetFileText(context.Background(), "rconfig.txt"))
	assert.Equal(t, "#nosuch.txt\n", client.GetFileText(context.Background(), "nosuch.txt"))
}

func TestClient_SaveFile_RoundTrip(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.files["network.txt"] = "use_dhcp=1\n"
	device.files["rconfig.txt"] = "reboot=0\n"
	client, transport := newTestClient(t, device)
	ctx := context.Background()

	_, _, err := client.GetFile(ctx, remoteconfig.TxtNetwork)
	require.NoError(t, err)
	_, _, err = client.GetFile(ctx, remoteconfig.TxtRconfig)
	require.NoError(t, err)

	err = client.SaveFile(ctx, "#network.txt\nuse_dhcp=0\nip_address=10.0.0.5\n\n")
	require.NoError(t, err)

	_, cached := client.Node().Cache().Lookup(remoteconfig.TxtNetwork)
	assert.False(t, cached, "保存したファイルのキャッシュは破棄される")
	_, cached = client.Node().Cache().Lookup(remoteconfig.TxtRconfig)
	assert.True(t, cached, "他のファイルのキャッシュは残る")

	blob, ok, err := client.GetFile(ctx, remoteconfig.TxtNetwork)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"use_dhcp=0", "ip_address=10.0.0.5"}, blob.Lines())

	sent := transport.sentTo(device.ip)
	assert.Contains(t, sent, "#network.txt\nuse_dhcp=0\nip_address=10.0.0.5", "末尾の空白は除いて送る")
}

func TestClient_SaveFile_SendFailureKeepsCache(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.files["network.txt"] = "use_dhcp=1\n"
	client, transport := newTestClient(t, device)
	ctx := context.Background()

	_, _, err := client.GetFile(ctx, remoteconfig.TxtNetwork)
	require.NoError(t, err)

	transport.setFailSends(1)
	err = client.SaveFile(ctx, "#network.txt\nuse_dhcp=0\n")
	assert.ErrorIs(t, err, ErrSendFailed)

	blob, cached := client.Node().Cache().Lookup(remoteconfig.TxtNetwork)
	require.True(t, cached, "保存できなかったのでキャッシュは残る")
	assert.Equal(t, []string{"use_dhcp=1"}, blob.Lines())
	assert.Equal(t, "use_dhcp=1\n", device.files["network.txt"])
}

func TestClient_SaveFile_Malformed(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	client, transport := newTestClient(t, device)

	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"no header", "use_dhcp=0\n", ErrMalformedSave},
		{"no .txt", "#network\nuse_dhcp=0\n", ErrMalformedSave},
		{"unknown file", "#bogus.txt\nx=1\n", ErrUnknownTxtFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.SaveFile(context.Background(), tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, transport.sentCount(), "不正なテキストは送信しない")
}

func TestClient_Commands(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.uptime = 3725
	client, transport := newTestClient(t, device)
	ctx := context.Background()

	require.NoError(t, client.SetDisplay(ctx, true))
	on, err := client.GetDisplayState(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, client.SetTftp(ctx, false))
	on, err = client.GetTftpState(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	uptime, err := client.GetUptime(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+5*time.Second, uptime)

	version, err := client.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[V1.0] Jan  1 2020 00:00:00", version)

	require.NoError(t, client.Reboot(ctx))
	require.NoError(t, client.FactoryReset(ctx))

	assert.Equal(t, []string{
		"!display#1", "?display#",
		"!tftp#0", "?tftp#",
		"?uptime#", "?version#",
		"?reboot##", "?factory##",
	}, transport.sentTo(device.ip))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, 1, device.rebooted)
	assert.Equal(t, 1, device.factory)
}

func TestClient_QueryTimeout(t *testing.T) {
	device := newFakeNode("10.0.0.5", "10.0.0.5,Art-Net,DMX,0")
	device.silent = true
	client, _ := newTestClient(t, device)

	_, err := client.GetUptime(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}
