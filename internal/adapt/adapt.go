// Package adapt holds small tuning constants shared across the audio
// pipeline that don't belong to any one package's core logic.
package adapt

// DLLRateClamp bounds how far the resampler's DLL-estimated sample rate
// may deviate from nominal before it is distrusted (see internal/resample).
const DLLRateClamp = 0.10
