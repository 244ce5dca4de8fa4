package remoteconfig

import "fmt"

// TxtFile はノード上の設定ファイルの種類
type TxtFile int

const (
	TxtNone TxtFile = iota
	TxtRconfig
	TxtNetwork
	TxtArtNet
	TxtE131
	TxtOSC
	TxtLTC
	TxtOSCClient
	TxtShow
	TxtParams
	TxtDevices
	TxtMonitor
	TxtSerial
	TxtRGBPanel
	TxtDisplay
	TxtRDMDevice
	TxtLTCDisplay
	TxtTCNet
	TxtGPS
	TxtSparkFun
	TxtMotor0
	TxtMotor1
	TxtMotor2
	TxtMotor3
	TxtMotor4
	TxtMotor5
	TxtMotor6
	TxtMotor7
	txtFileLast
)

// MotorCount はステッピングモータ用設定ファイルの数
const MotorCount = 8

var txtFileNames = [txtFileLast]string{
	TxtNone:       "",
	TxtRconfig:    "rconfig.txt",
	TxtNetwork:    "network.txt",
	TxtArtNet:     "artnet.txt",
	TxtE131:       "e131.txt",
	TxtOSC:        "osc.txt",
	TxtLTC:        "ltc.txt",
	TxtOSCClient:  "oscclnt.txt",
	TxtShow:       "show.txt",
	TxtParams:     "params.txt",
	TxtDevices:    "devices.txt",
	TxtMonitor:    "mon.txt",
	TxtSerial:     "serial.txt",
	TxtRGBPanel:   "rgbpanel.txt",
	TxtDisplay:    "display.txt",
	TxtRDMDevice:  "rdm_device.txt",
	TxtLTCDisplay: "ldisplay.txt",
	TxtTCNet:      "tcnet.txt",
	TxtGPS:        "gps.txt",
	TxtSparkFun:   "sparkfun.txt",
	TxtMotor0:     "motor0.txt",
	TxtMotor1:     "motor1.txt",
	TxtMotor2:     "motor2.txt",
	TxtMotor3:     "motor3.txt",
	TxtMotor4:     "motor4.txt",
	TxtMotor5:     "motor5.txt",
	TxtMotor6:     "motor6.txt",
	TxtMotor7:     "motor7.txt",
}

var txtFileByName = func() map[string]TxtFile {
	m := make(map[string]TxtFile, txtFileLast)
	for f := TxtRconfig; f < txtFileLast; f++ {
		m[txtFileNames[f]] = f
	}
	return m
}()

func (f TxtFile) String() string {
	if f < 0 || f >= txtFileLast {
		return fmt.Sprintf("TxtFile(%d)", int(f))
	}
	return txtFileNames[f]
}

// IsValid は既知のファイルかどうか
func (f TxtFile) IsValid() bool {
	return f > TxtNone && f < txtFileLast
}

// LookupTxtFile はファイル名から TxtFile を引く
func LookupTxtFile(name string) (TxtFile, bool) {
	f, ok := txtFileByName[name]
	return f, ok
}

// MotorTxtFile は i 番目のモータ設定ファイルを返す
func MotorTxtFile(i int) TxtFile {
	if i < 0 || i >= MotorCount {
		return TxtNone
	}
	return TxtMotor0 + TxtFile(i)
}

// AllTxtFiles は既知の全ファイルを定義順に返す
func AllTxtFiles() []TxtFile {
	files := make([]TxtFile, 0, txtFileLast-1)
	for f := TxtRconfig; f < txtFileLast; f++ {
		files = append(files, f)
	}
	return files
}

// AppliesTo はそのファイルが capability と mode の組み合わせのノードに存在するかを返す
func (f TxtFile) AppliesTo(c Capability, m Mode) bool {
	switch f {
	case TxtRconfig, TxtNetwork:
		return true
	case TxtArtNet, TxtE131, TxtOSC, TxtLTC, TxtOSCClient, TxtShow:
		return c.TxtFile() == f
	case TxtParams, TxtDevices, TxtMonitor, TxtSerial, TxtRGBPanel:
		return m.TxtFile() == f
	case TxtDisplay:
		return c != CapabilityLTC
	case TxtRDMDevice:
		return m == ModeRDM || m == ModeStepper
	case TxtLTCDisplay, TxtTCNet, TxtGPS:
		return m == ModeTimeCode
	case TxtSparkFun, TxtMotor0, TxtMotor1, TxtMotor2, TxtMotor3, TxtMotor4, TxtMotor5, TxtMotor6, TxtMotor7:
		return m == ModeStepper
	}
	return false
}
