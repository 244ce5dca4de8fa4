package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"remote-config/protocol"
	"remote-config/remoteconfig"
	"remote-config/remoteconfig/handler"
)

// ErrorResponse は失敗の command_result を作る
func ErrorResponse(code protocol.ErrorCode, format string, args ...interface{}) protocol.CommandResultPayload {
	return protocol.CommandResultPayload{
		Success: false,
		Error: &protocol.Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// SuccessResponse は成功の command_result を作る。data が nil なら Data は空
func SuccessResponse(data interface{}) protocol.CommandResultPayload {
	if data == nil {
		return protocol.CommandResultPayload{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ErrorResponse(protocol.ErrorCodeInternalServerError, "Error marshaling result: %v", err)
	}
	return protocol.CommandResultPayload{Success: true, Data: raw}
}

// errorCodeFor はハンドラのエラーを WebSocket のエラーコードに変換する
func errorCodeFor(err error) protocol.ErrorCode {
	var refused handler.ErrDeviceRefused
	switch {
	case errors.Is(err, handler.ErrNodeNotFound):
		return protocol.ErrorCodeTargetNotFound
	case errors.Is(err, handler.ErrMalformedSave), errors.Is(err, remoteconfig.ErrMalformedFileBlob):
		return protocol.ErrorCodeMalformedSave
	case errors.Is(err, handler.ErrUnknownTxtFile):
		return protocol.ErrorCodeInvalidParameters
	case errors.Is(err, handler.ErrTimeout):
		return protocol.ErrorCodeNodeTimeout
	case errors.As(err, &refused):
		return protocol.ErrorCodeNodeRefused
	case errors.Is(err, handler.ErrNoDevicesFound):
		return protocol.ErrorCodeNoDevicesFound
	case errors.Is(err, handler.ErrSendFailed),
		errors.Is(err, handler.ErrSessionClosed),
		errors.Is(err, remoteconfig.ErrUnexpectedReply):
		return protocol.ErrorCodeCommunicationError
	}
	return protocol.ErrorCodeInternalServerError
}

// errorResult は err を command_result にする
func errorResult(action string, err error) protocol.CommandResultPayload {
	code := errorCodeFor(err)
	if code == protocol.ErrorCodeInternalServerError {
		slog.Error(action, "err", err)
	}
	return ErrorResponse(code, "%s: %v", action, err)
}
