package helpers

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	OutputFormatAuto  OutputFormat = "auto"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
	OutputFormatYAML  OutputFormat = "yaml"
	OutputFormatTUI   OutputFormat = "tui"
)

// Error codes surfaced by CliError.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeSubmission    = "SUBMISSION_ERROR"
	CodePoll          = "POLL_ERROR"
	CodeTaskFailed    = "TASK_FAILED"
	CodePollTimeout   = "POLL_TIMEOUT"
	CodeSuperseded    = "SUPERSEDED"
	CodeCanceled      = "OPERATION_CANCELED"
	CodeTimeout       = "OPERATION_TIMEOUT"
	CodeNetwork       = "NETWORK_ERROR"
	CodeAuth          = "AUTH_ERROR"
	CodeNotFound      = "TASK_NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeCommandFailed = "COMMAND_ERROR"
)
