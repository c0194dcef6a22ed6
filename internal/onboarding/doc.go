// Package onboarding implements the capture-to-plan pipeline: two ordered
// photo captures, a biometrics upload, profile assembly, plan generation and
// plan persistence, driven by a Controller that owns all run state.
//
// Remote services, the camera and the durable store are consumed through the
// Camera, BiometricsUploader, PlanGenerator and PlanStore interfaces. A
// presentation layer reads Snapshot values and submits intents through the
// Controller methods; it never mutates run state directly.
//
// Failures of the network stages move the run to StateFailed and keep every
// earlier result, so RetryRequested re-enters only the stage that failed.
// Nothing is retried automatically.
package onboarding
