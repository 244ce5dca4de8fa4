package remoteconfig

import "fmt"

// Capability はノードの主プロトコル
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilityArtNet
	CapabilityE131
	CapabilityOSCServer
	CapabilityLTC
	CapabilityOSCClient
	CapabilityRDMNetLLRPOnly
	CapabilityShowfile
	capabilityLast
)

type capabilityDesc struct {
	label string
	file  TxtFile
}

var capabilityTable = [capabilityLast]capabilityDesc{
	CapabilityUnknown:        {"unknown", TxtNone},
	CapabilityArtNet:         {"Art-Net", TxtArtNet},
	CapabilityE131:           {"sACN E1.31", TxtE131},
	CapabilityOSCServer:      {"OSC Server", TxtOSC},
	CapabilityLTC:            {"LTC", TxtLTC},
	CapabilityOSCClient:      {"OSC Client", TxtOSCClient},
	CapabilityRDMNetLLRPOnly: {"RDMNet LLRP Only", TxtNone},
	CapabilityShowfile:       {"Showfile", TxtShow},
}

// ParseCapability はラベルから Capability を引く。未知のラベルは false
func ParseCapability(label string) (Capability, bool) {
	for c := CapabilityArtNet; c < capabilityLast; c++ {
		if capabilityTable[c].label == label {
			return c, true
		}
	}
	return CapabilityUnknown, false
}

func (c Capability) String() string {
	if c < 0 || c >= capabilityLast {
		return fmt.Sprintf("Capability(%d)", int(c))
	}
	return capabilityTable[c].label
}

// TxtFile は capability に対応する設定ファイル。無い場合は TxtNone
func (c Capability) TxtFile() TxtFile {
	if c < 0 || c >= capabilityLast {
		return TxtNone
	}
	return capabilityTable[c].file
}

// Mode はノードのデータ処理の役割
type Mode int

const (
	ModeUnknown Mode = iota
	ModeDMX
	ModeRDM
	ModeMonitor
	ModePixel
	ModeTimeCode
	ModeOSC
	ModeConfig
	ModeStepper
	ModePlayer
	ModeArtNet
	ModeSerial
	ModeRGBPanel
	modeLast
)

type modeDesc struct {
	label string
	file  TxtFile
}

var modeTable = [modeLast]modeDesc{
	ModeUnknown:  {"unknown", TxtNone},
	ModeDMX:      {"DMX", TxtParams},
	ModeRDM:      {"RDM", TxtParams},
	ModeMonitor:  {"Monitor", TxtMonitor},
	ModePixel:    {"Pixel", TxtDevices},
	ModeTimeCode: {"TimeCode", TxtNone},
	ModeOSC:      {"OSC", TxtNone},
	ModeConfig:   {"Config", TxtNone},
	ModeStepper:  {"Stepper", TxtDevices},
	ModePlayer:   {"Player", TxtNone},
	ModeArtNet:   {"Art-Net", TxtNone},
	ModeSerial:   {"Serial", TxtSerial},
	ModeRGBPanel: {"RGB Panel", TxtRGBPanel},
}

// ParseMode はモード行から Mode を引く。未知のモードは false
func ParseMode(label string) (Mode, bool) {
	for m := ModeDMX; m < modeLast; m++ {
		if modeTable[m].label == label {
			return m, true
		}
	}
	return ModeUnknown, false
}

func (m Mode) String() string {
	if m < 0 || m >= modeLast {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeTable[m].label
}

// TxtFile はモードの主設定ファイル。無い場合は TxtNone
func (m Mode) TxtFile() TxtFile {
	if m < 0 || m >= modeLast {
		return TxtNone
	}
	return modeTable[m].file
}
