package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigFile はデフォルトの設定ファイル名
	DefaultConfigFile = "config.toml"

	DefaultLogFilename     = "remote-config.log"
	DefaultPort            = 0x2905
	DefaultReceiveTimeout  = "1s"
	DefaultWebSocketAddr   = "localhost:8080"
	DefaultWebSocketClient = "ws://localhost:8080/ws"
)

// Config はアプリケーション全体の設定を表す
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Filename string `toml:"filename"`
	} `toml:"log"`
	Network struct {
		InterfaceIP     string `toml:"interface_ip"`     // 空ならすべてのインターフェース
		BroadcastIP     string `toml:"broadcast_ip"`     // 空ならインターフェースから自動検出
		Port            int    `toml:"port"`             // ノードの設定ポート
		ReceiveTimeout  string `toml:"receive_timeout"`  // e.g., "1s", "500ms"
		MonitorInterval string `toml:"monitor_interval"` // インターフェース監視間隔。"0" で無効
	} `toml:"network"`
	WebSocket struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"websocket"`
	TLS struct {
		Enabled  bool   `toml:"enabled"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"tls"`
	WebSocketClient struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"websocket_client"`
}

// NewConfig はデフォルト設定を持つConfigを作成する
func NewConfig() *Config {
	cfg := &Config{
		Debug: false,
	}
	cfg.Log.Filename = DefaultLogFilename
	cfg.Network.Port = DefaultPort
	cfg.Network.ReceiveTimeout = DefaultReceiveTimeout
	cfg.Network.MonitorInterval = "0"
	cfg.WebSocket.Addr = DefaultWebSocketAddr
	cfg.WebSocketClient.Addr = DefaultWebSocketClient
	return cfg
}

// LoadConfig は設定を読み込む
// 以下の優先順位でロードする:
// 1. 指定されたパスの設定ファイル（指定がある場合）
// 2. カレントディレクトリのデフォルト設定ファイル（存在する場合）
// 3. デフォルト設定
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	if _, err := toml.DecodeFile(filePath, config); err != nil {
		return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", filePath, err)
	}
	return config, nil
}

// InterfaceIP は bind するアドレスを返す。未設定なら nil
func (c *Config) InterfaceIP() (net.IP, error) {
	return parseIPv4(c.Network.InterfaceIP, "interface_ip")
}

// BroadcastIP はディスカバリの送信先を返す。未設定なら nil (自動検出)
func (c *Config) BroadcastIP() (net.IP, error) {
	return parseIPv4(c.Network.BroadcastIP, "broadcast_ip")
}

func parseIPv4(s, name string) (net.IP, error) {
	if s == "" {
		return nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%s: invalid IPv4 address %q", name, s)
	}
	return ip.To4(), nil
}

// ReceiveTimeout は1回の受信待ち時間を返す
func (c *Config) ReceiveTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Network.ReceiveTimeout)
	if err != nil {
		return 0, fmt.Errorf("receive_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("receive_timeout must be positive: %s", c.Network.ReceiveTimeout)
	}
	return d, nil
}

// MonitorInterval はインターフェース監視の間隔を返す。0 なら監視しない
func (c *Config) MonitorInterval() (time.Duration, error) {
	if c.Network.MonitorInterval == "" || c.Network.MonitorInterval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Network.MonitorInterval)
	if err != nil {
		return 0, fmt.Errorf("monitor_interval: %w", err)
	}
	return d, nil
}

// Validate は設定値の整合性をチェックする
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.InterfaceIP(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BroadcastIP(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ReceiveTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MonitorInterval(); err != nil {
		errs = append(errs, err)
	}
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Network.Port))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls: cert_file and key_file are required"))
	}
	return errors.Join(errs...)
}

// ApplyCommandLineArgs はコマンドライン引数で指定された値を設定に適用する
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	// network
	if args.InterfaceIPSpecified {
		c.Network.InterfaceIP = args.InterfaceIP
	}
	if args.BroadcastIPSpecified {
		c.Network.BroadcastIP = args.BroadcastIP
	}
	if args.PortSpecified {
		c.Network.Port = args.Port
	}
	if args.ReceiveTimeoutSpecified {
		c.Network.ReceiveTimeout = args.ReceiveTimeout
	}
	// websocket
	if args.WebSocketEnabledSpecified {
		c.WebSocket.Enabled = args.WebSocketEnabled
	}
	if args.WebSocketAddrSpecified {
		c.WebSocket.Addr = args.WebSocketAddr
	}
	// websocket TLS
	if args.WebSocketTLSEnabledSpecified {
		c.TLS.Enabled = args.WebSocketTLSEnabled
	}
	if args.WebSocketTLSCertFileSpecified {
		c.TLS.CertFile = args.WebSocketTLSCertFile
	}
	if args.WebSocketTLSKeyFileSpecified {
		c.TLS.KeyFile = args.WebSocketTLSKeyFile
	}
	// websocket client
	if args.WebSocketClientEnabledSpecified {
		c.WebSocketClient.Enabled = args.WebSocketClientEnabled
	}
	if args.WebSocketClientAddrSpecified {
		c.WebSocketClient.Addr = args.WebSocketClientAddr
	}
	// ws-both フラグの特殊処理
	if args.WebSocketBothSpecified && args.WebSocketBoth {
		c.WebSocket.Enabled = true
		c.WebSocketClient.Enabled = true
	}
}

// CommandLineArgs はコマンドライン引数からの値を保持する
type CommandLineArgs struct {
	// 設定ファイル (メタ設定)
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	// ネットワーク設定
	InterfaceIP             string
	InterfaceIPSpecified    bool
	BroadcastIP             string
	BroadcastIPSpecified    bool
	Port                    int
	PortSpecified           bool
	ReceiveTimeout          string
	ReceiveTimeoutSpecified bool

	// WebSocketサーバー設定
	WebSocketEnabled          bool
	WebSocketEnabledSpecified bool
	WebSocketAddr             string
	WebSocketAddrSpecified    bool

	// WebSocket TLS設定
	WebSocketTLSEnabled           bool
	WebSocketTLSEnabledSpecified  bool
	WebSocketTLSCertFile          string
	WebSocketTLSCertFileSpecified bool
	WebSocketTLSKeyFile           string
	WebSocketTLSKeyFileSpecified  bool

	// WebSocketクライアント設定
	WebSocketClientEnabled          bool
	WebSocketClientEnabledSpecified bool
	WebSocketClientAddr             string
	WebSocketClientAddrSpecified    bool

	// 特殊フラグ
	WebSocketBoth          bool
	WebSocketBothSpecified bool
}

// ParseCommandLineArgs はコマンドライン引数をパースする
func ParseCommandLineArgs(fs *flag.FlagSet, argv []string) (CommandLineArgs, error) {
	var args CommandLineArgs

	fs.StringVar(&args.ConfigFile, "config", "", "TOML設定ファイルのパスを指定する")

	fs.BoolVar(&args.Debug, "debug", false, "デバッグモードを有効にする")
	fs.StringVar(&args.LogFilename, "log", DefaultLogFilename, "ログファイル名を指定する")

	fs.StringVar(&args.InterfaceIP, "interface", "", "bind するローカルIPv4アドレスを指定する")
	fs.StringVar(&args.BroadcastIP, "broadcast", "", "ディスカバリの送信先ブロードキャストアドレスを指定する")
	fs.IntVar(&args.Port, "port", DefaultPort, "ノードの設定用UDPポートを指定する")
	fs.StringVar(&args.ReceiveTimeout, "timeout", DefaultReceiveTimeout, "応答の受信待ち時間を指定する")

	fs.BoolVar(&args.WebSocketEnabled, "websocket", false, "WebSocketサーバーモードを有効にする")
	fs.StringVar(&args.WebSocketAddr, "ws-addr", DefaultWebSocketAddr, "WebSocketサーバーのアドレスを指定する")

	fs.BoolVar(&args.WebSocketTLSEnabled, "ws-tls", false, "WebSocketサーバーでTLSを有効にする")
	fs.StringVar(&args.WebSocketTLSCertFile, "ws-cert-file", "", "TLS証明書ファイルのパスを指定する")
	fs.StringVar(&args.WebSocketTLSKeyFile, "ws-key-file", "", "TLS秘密鍵ファイルのパスを指定する")

	fs.BoolVar(&args.WebSocketClientEnabled, "ws-client", false, "WebSocketクライアントモードを有効にする")
	fs.StringVar(&args.WebSocketClientAddr, "ws-client-addr", DefaultWebSocketClient, "WebSocketクライアントの接続先アドレスを指定する")

	fs.BoolVar(&args.WebSocketBoth, "ws-both", false, "WebSocketサーバーとクライアントの両方を有効にする（テスト用）")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}

	// 明示的に指定されたフラグだけを記録する
	specified := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		specified[f.Name] = true
	})

	args.ConfigSpecified = specified["config"]
	args.DebugSpecified = specified["debug"]
	args.LogFilenameSpecified = specified["log"]
	args.InterfaceIPSpecified = specified["interface"]
	args.BroadcastIPSpecified = specified["broadcast"]
	args.PortSpecified = specified["port"]
	args.ReceiveTimeoutSpecified = specified["timeout"]
	args.WebSocketEnabledSpecified = specified["websocket"]
	args.WebSocketAddrSpecified = specified["ws-addr"]
	args.WebSocketTLSEnabledSpecified = specified["ws-tls"]
	args.WebSocketTLSCertFileSpecified = specified["ws-cert-file"]
	args.WebSocketTLSKeyFileSpecified = specified["ws-key-file"]
	args.WebSocketClientEnabledSpecified = specified["ws-client"]
	args.WebSocketClientAddrSpecified = specified["ws-client-addr"]
	args.WebSocketBothSpecified = specified["ws-both"]

	return args, nil
}
