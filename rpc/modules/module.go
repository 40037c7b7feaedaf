package modules

const (
	codeInvalidParams     = -32602
	codeServerError       = -32000
	codeUnauthorized      = -32001
	codeLedgerBusy        = -32010
	codeCapacityExceeded  = -32030
	codeRiskRejected      = -32031
	codeOracleUnavailable = -32032
	codeStateConflict     = -32033
)

// ModuleError carries a transport-ready rendering of a ledger failure: the
// HTTP status, the JSON-RPC error code and the message handed to the caller.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
