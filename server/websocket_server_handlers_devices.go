package server

import (
	"remote-config/protocol"
	"time"
)

// handleDeviceCommandFromClient handles a device_command message from a client
func (ws *WebSocketServer) handleDeviceCommandFromClient(msg *protocol.Message) protocol.CommandResultPayload {
	var payload protocol.DeviceCommandPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing device_command payload: %v", err)
	}

	node, err := ws.rcClient.FindNode(payload.Target)
	if err != nil {
		return errorResult("Error finding node", err)
	}

	ctx := ws.ctx
	data := protocol.DeviceCommandData{Command: payload.Command}
	switch payload.Command {
	case protocol.DeviceCommandReboot:
		err = ws.rcClient.Reboot(ctx, node)
	case protocol.DeviceCommandFactory:
		err = ws.rcClient.FactoryReset(ctx, node)
	case protocol.DeviceCommandDisplay:
		if payload.Value != nil {
			err = ws.rcClient.SetDisplay(ctx, node, *payload.Value)
			data.On = payload.Value
			break
		}
		var on bool
		on, err = ws.rcClient.GetDisplayState(ctx, node)
		data.On = &on
	case protocol.DeviceCommandTftp:
		if payload.Value != nil {
			err = ws.rcClient.SetTftp(ctx, node, *payload.Value)
			data.On = payload.Value
			break
		}
		var on bool
		on, err = ws.rcClient.GetTftpState(ctx, node)
		data.On = &on
	case protocol.DeviceCommandUptime:
		var uptime time.Duration
		uptime, err = ws.rcClient.GetUptime(ctx, node)
		seconds := int64(uptime / time.Second)
		data.Uptime = &seconds
	case protocol.DeviceCommandVersion:
		data.Version, err = ws.rcClient.GetVersion(ctx, node)
	default:
		return ErrorResponse(protocol.ErrorCodeInvalidParameters, "Unknown command: %s", payload.Command)
	}
	if err != nil {
		return errorResult("Error executing "+string(payload.Command), err)
	}
	return SuccessResponse(data)
}
