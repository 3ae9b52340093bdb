package cli

// Export internal functions for testing.

// RunConfigSet exports runConfigSet for testing.
var RunConfigSet = runConfigSet

// RunConfigGet exports runConfigGet for testing.
var RunConfigGet = runConfigGet

// RunConfigList exports runConfigList for testing.
var RunConfigList = runConfigList

// RunConfigUnset exports runConfigUnset for testing.
var RunConfigUnset = runConfigUnset

// IsValidConfigKey exports isValidConfigKey for testing.
var IsValidConfigKey = isValidConfigKey

// RunTranscribe exports runTranscribe for testing.
var RunTranscribe = runTranscribe

// ResolveSettings exports resolveSettings for testing.
var ResolveSettings = resolveSettings

// DeriveOutputPath exports deriveOutputPath for testing.
var DeriveOutputPath = deriveOutputPath

// RunServe exports runServe for testing.
var RunServe = runServe

// TranscribeOptions exports transcribeOptions for testing.
type TranscribeOptions = transcribeOptions

// ServeOptions exports serveOptions for testing.
type ServeOptions = serveOptions
