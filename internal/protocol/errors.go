// Package protocol hosts the mapping from the internal error taxonomy
// (internal/core) to JSON-RPC error objects (spec §7); the ACP
// session-update payload shapes live in the acp subpackage. Ported from the original
// Rust implementation's dedicated acp_error_conversion module so the
// mapping lives in one well-tested place instead of scattered switches.
package protocol

import (
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/protocol/jsonrpc"
)

// ToJSONRPCError maps a core.Error (or any error) to a JSON-RPC error
// object per spec §7's propagation policy. Information-sensitive detail
// is elided from the client-visible message but logged server-side with
// the same correlation ID.
func ToJSONRPCError(err error, log *logger.Logger) *jsonrpc.Error {
	ce, ok := core.AsCoreError(err)
	if !ok {
		log.Error("unmapped internal error surfaced to client", zap.Error(err))
		return &jsonrpc.Error{
			Code:    jsonrpc.CodeInternalError,
			Message: "internal error",
			Data:    map[string]any{"error": "internal error"},
		}
	}

	code := codeForKind(ce.Kind)
	correlationID, _ := ce.Data["correlationId"].(string)
	if correlationID == "" {
		correlationID = ce.CorrelationID
	}

	data := map[string]any{
		"error": ce.Message,
	}
	if ce.Suggestion != "" {
		data["suggestion"] = ce.Suggestion
	}
	if correlationID != "" {
		data["correlationId"] = correlationID
	}
	if ce.Stage != "" {
		data["stage"] = ce.Stage
	}
	for k, v := range ce.Data {
		if k == "correlationId" {
			continue
		}
		data[k] = v
	}

	log.Error("request failed",
		zap.String("kind", string(ce.Kind)),
		zap.String("correlationId", correlationID),
		zap.Error(ce))

	return &jsonrpc.Error{Code: code, Message: clientSafeMessage(ce), Data: data}
}

func codeForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation, core.KindPolicy, core.KindResource:
		return jsonrpc.CodeInvalidParams
	case core.KindUpstream, core.KindTimeout, core.KindInternal:
		return jsonrpc.CodeInternalError
	default:
		return jsonrpc.CodeInternalError
	}
}

// clientSafeMessage elides information-sensitive detail for policy
// violations (e.g. exact blocked-host/IP) while keeping the message
// actionable; full detail stays in the server log.
func clientSafeMessage(ce *core.Error) string {
	if ce.Kind == core.KindPolicy {
		return "request denied by security policy"
	}
	return ce.Message
}
