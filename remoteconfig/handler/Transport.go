package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Transport はノードとの通信に使うソケットを抽象化したもの。
// 実運用では *network.UDPConnection、テストでは擬似ノードが使われる。
type Transport interface {
	// SendTo は ip の設定ポート宛てに data を送る
	SendTo(ip net.IP, data []byte) (int, error)
	// Receive は1パケット受信する。自分の送信したパケットは data=nil で返る
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
	Close() error
}

var (
	ErrTimeout        = errors.New("timeout waiting for reply")
	ErrSessionClosed  = errors.New("session closed")
	ErrSendFailed     = errors.New("send failed")
	ErrMalformedSave  = errors.New("malformed save text")
	ErrNoDevicesFound = errors.New("no devices found")
	ErrUnknownTxtFile = errors.New("unknown txt file")
	ErrNodeNotFound   = errors.New("node not found")
)

// ErrDeviceRefused はノードが要求を `#ERROR#` で拒否したことを示すエラー
type ErrDeviceRefused struct {
	IP      net.IP
	Request string
	Reply   string
}

func (e ErrDeviceRefused) Error() string {
	return fmt.Sprintf("device %v refused %q: %q", e.IP, e.Request, e.Reply)
}

// isTimeoutError は受信期限切れによるエラーかどうか
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
