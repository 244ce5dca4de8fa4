package server

import (
	"remote-config/protocol"
	"remote-config/remoteconfig"
)

// handleDiscoverDevicesFromClient handles a discover_devices message from a client
func (ws *WebSocketServer) handleDiscoverDevicesFromClient(msg *protocol.Message) protocol.CommandResultPayload {
	nodes, err := ws.rcClient.Discover(ws.ctx)
	if err != nil {
		return errorResult("Error discovering devices", err)
	}
	return SuccessResponse(protocol.NodesToProtocol(nodes))
}

// handleListDevicesFromClient handles a list_devices message from a client
func (ws *WebSocketServer) handleListDevicesFromClient(msg *protocol.Message) protocol.CommandResultPayload {
	var payload protocol.ListDevicesPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing list_devices payload: %v", err)
	}

	if len(payload.Targets) == 0 {
		return SuccessResponse(protocol.NodesToProtocol(ws.rcClient.ListNodes()))
	}

	nodes := make([]*remoteconfig.Node, 0, len(payload.Targets))
	for _, target := range payload.Targets {
		node, err := ws.rcClient.FindNode(target)
		if err != nil {
			return errorResult("Error finding node", err)
		}
		nodes = append(nodes, node)
	}
	return SuccessResponse(protocol.NodesToProtocol(nodes))
}
