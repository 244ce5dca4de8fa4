package server

import (
	"remote-config/protocol"
	"remote-config/remoteconfig"
)

// handleGetFileFromClient handles a get_file message from a client
func (ws *WebSocketServer) handleGetFileFromClient(msg *protocol.Message) protocol.CommandResultPayload {
	var payload protocol.GetFilePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_file payload: %v", err)
	}
	if payload.Target == "" || payload.File == "" {
		return ErrorResponse(protocol.ErrorCodeInvalidParameters, "target and file are required")
	}

	node, err := ws.rcClient.FindNode(payload.Target)
	if err != nil {
		return errorResult("Error finding node", err)
	}
	f, ok := remoteconfig.LookupTxtFile(payload.File)
	if !ok {
		return ErrorResponse(protocol.ErrorCodeInvalidParameters, "Unknown file: %s", payload.File)
	}

	text, found, err := ws.rcClient.GetFile(ws.ctx, node, f)
	if err != nil {
		return errorResult("Error getting file", err)
	}
	return SuccessResponse(protocol.FileData{Name: f.String(), Text: text, Found: found})
}

// handleSaveFileFromClient handles a save_file message from a client
func (ws *WebSocketServer) handleSaveFileFromClient(msg *protocol.Message) protocol.CommandResultPayload {
	var payload protocol.SaveFilePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing save_file payload: %v", err)
	}
	if payload.Target == "" {
		return ErrorResponse(protocol.ErrorCodeInvalidParameters, "target is required")
	}

	node, err := ws.rcClient.FindNode(payload.Target)
	if err != nil {
		return errorResult("Error finding node", err)
	}
	if err := ws.rcClient.SaveFile(ws.ctx, node, payload.Text); err != nil {
		return errorResult("Error saving file", err)
	}
	return SuccessResponse(nil)
}
