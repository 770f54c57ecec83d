package rterrors

// This file defines the user-facing error messages the runtime attaches to
// workflow:error and the final run result. Callers may override these
// variables at process startup (before any run begins) to customize UX
// text without forking flowsignal.
//
// Contract: these strings are intended to be rendered directly in UIs; do
// not mutate them concurrently with active runs.
var (
	PublicErrorTimeout                = "The workflow timed out. Please retry."
	PublicErrorInternal               = "The workflow failed. Please retry."
	PublicErrorProviderRateLimited    = "The AI provider is rate-limiting requests. Please wait a moment and retry."
	PublicErrorProviderUnavailable    = "The AI provider is temporarily unavailable. Please retry."
	PublicErrorProviderInvalidRequest = "The AI provider rejected the request."
	PublicErrorProviderAuth           = "The AI provider authentication failed."
	PublicErrorProviderUnknown        = "The AI provider returned an unexpected error. Please retry."
	PublicErrorReplay                 = "Unable to replay the recorded run."
	PublicErrorReducer                = "A workflow reducer failed."
)

// PublicMessageForProvider maps a ProviderErrorKind to its user-facing
// message, falling back to PublicErrorProviderUnknown for unrecognized
// kinds.
func PublicMessageForProvider(kind ProviderErrorKind) string {
	switch kind {
	case ProviderErrorRateLimited:
		return PublicErrorProviderRateLimited
	case ProviderErrorUnavailable:
		return PublicErrorProviderUnavailable
	case ProviderErrorInvalidRequest:
		return PublicErrorProviderInvalidRequest
	case ProviderErrorAuth:
		return PublicErrorProviderAuth
	default:
		return PublicErrorProviderUnknown
	}
}
